package rank

import "context"

// MassWindow resolves library spectra whose parent mass lies within
// ±window Da of a query mass.
type MassWindow interface {
	IDsInMassWindow(ctx context.Context, mass, window float64) ([]string, error)
}

// Model scores feature rows (feature.Columns order).
type Model interface {
	Predict(rows [][]float64) ([]float64, error)
}
