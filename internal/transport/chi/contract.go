package chi

import (
	"context"
	"io"

	"github.com/kailas-cloud/ms2rank"
)

// Library is the ranking surface the HTTP server needs.
type Library interface {
	RankCandidates(
		ctx context.Context, queries []ms2rank.Spectrum, preselectionSize int, cfg ms2rank.RankConfig,
	) ([]ms2rank.ResultTable, error)
	ExportCSV(ctx context.Context, w io.Writer, tables []ms2rank.ResultTable, cfg ms2rank.RankConfig) error
	DefaultRankConfig() ms2rank.RankConfig
	DefaultPreselectionSize() int
	Health(ctx context.Context) ms2rank.HealthReport
}

var _ Library = (*ms2rank.Library)(nil)
