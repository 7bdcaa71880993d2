package spec2vec

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Vocabulary maps peak words to pretrained vectors of one dimensionality.
type Vocabulary struct {
	dim   int
	words map[string][]float32
}

// NewVocabulary builds a vocabulary from in-memory vectors.
func NewVocabulary(words map[string][]float32) (*Vocabulary, error) {
	v := &Vocabulary{words: make(map[string][]float32, len(words))}
	for w, vec := range words {
		if err := v.add(w, vec); err != nil {
			return nil, err
		}
	}
	if v.dim == 0 {
		return nil, fmt.Errorf("vocabulary is empty")
	}
	return v, nil
}

// LoadVocabulary reads a word2vec text file.
func LoadVocabulary(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open word vectors: %w", err)
	}
	defer f.Close()

	v, err := ReadVocabulary(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return v, nil
}

// ReadVocabulary parses the word2vec text format: an optional
// "<count> <dim>" header, then one "<word> <v1> ... <vn>" line per word.
func ReadVocabulary(r io.Reader) (*Vocabulary, error) {
	v := &Vocabulary{words: make(map[string][]float32)}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if line == 1 && len(fields) == 2 {
			if _, err := strconv.Atoi(fields[0]); err == nil {
				dim, err := strconv.Atoi(fields[1])
				if err != nil || dim <= 0 {
					return nil, fmt.Errorf("line 1: invalid dimension %q", fields[1])
				}
				v.dim = dim
				continue
			}
		}
		vec := make([]float32, len(fields)-1)
		for i, s := range fields[1:] {
			f, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			vec[i] = float32(f)
		}
		if err := v.add(fields[0], vec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(v.words) == 0 {
		return nil, fmt.Errorf("vocabulary is empty")
	}
	return v, nil
}

func (v *Vocabulary) add(word string, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("word %q has no vector", word)
	}
	if v.dim == 0 {
		v.dim = len(vec)
	}
	if len(vec) != v.dim {
		return fmt.Errorf("word %q: expected %d values, got %d", word, v.dim, len(vec))
	}
	v.words[word] = vec
	return nil
}

// Dim returns the vector length.
func (v *Vocabulary) Dim() int { return v.dim }

// Len returns the number of words.
func (v *Vocabulary) Len() int { return len(v.words) }

// Lookup returns the vector of a word.
func (v *Vocabulary) Lookup(word string) ([]float32, bool) {
	vec, ok := v.words[word]
	return vec, ok
}
