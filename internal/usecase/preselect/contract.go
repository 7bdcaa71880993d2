package preselect

// StructureResolver maps a library spectrum to its structure-id.
type StructureResolver interface {
	StructureOf(spectrumID string) (string, error)
}
