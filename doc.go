// Package ms2rank ranks library spectra as analog candidates for MS2 query
// spectra.
//
// A library is a store of annotated spectra with two precomputed embedding
// spaces and a structural neighbor table. For each query, candidates are
// preselected by cosine similarity in the first space, rescored in the
// second, enriched with the scores of structurally similar library
// compounds and ordered by a pretrained ranking model.
//
// # Building a library
//
//	report, _ := ms2rank.BuildLibrary(ctx, spectra, pairs, ms2rank.BuildConfig{},
//	    ms2rank.WithSQLite("lib/library.sqlite"),
//	    ms2rank.WithONNXEmbedder("ms2deepscore", "lib/ms2deepscore.onnx", 200),
//	    ms2rank.WithSpec2VecEmbedder("spec2vec", "lib/spec2vec.txt"),
//	)
//
// # Ranking queries
//
//	lib, _ := ms2rank.Open(ctx,
//	    ms2rank.WithLibraryDir("lib"),
//	    ms2rank.WithONNXEmbedder("ms2deepscore", "lib/ms2deepscore.onnx", 200),
//	    ms2rank.WithSpec2VecEmbedder("spec2vec", "lib/spec2vec.txt"),
//	)
//	defer lib.Close()
//
//	tables, _ := lib.RankCandidates(ctx, queries, 2000, lib.DefaultRankConfig())
//	_ = lib.ExportCSV(ctx, os.Stdout, tables, lib.DefaultRankConfig())
package ms2rank
