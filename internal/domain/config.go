package domain

// KeyPrefix namespaces every key the library writes to a shared key-value store.
const KeyPrefix = "ms2rank:"

// Embedding space names used when none are configured.
const (
	// SpaceMS2DeepScore is the deep metric-learning space, used for preselection.
	SpaceMS2DeepScore = "ms2deepscore"
	// SpaceSpec2Vec is the spectral word embedding space, used for rescoring.
	SpaceSpec2Vec = "spec2vec"
)

// PipelineDefaults holds the tuning the ranking models were trained with.
type PipelineDefaults struct {
	PreselectionSize int
	Cutoff           int
	NeighborK        int
	MassBase         float64
}

// DefaultPipeline returns the default pipeline tuning.
func DefaultPipeline() PipelineDefaults {
	return PipelineDefaults{
		PreselectionSize: 2000,
		Cutoff:           20,
		NeighborK:        10,
		MassBase:         0.8,
	}
}
