package utils

import (
	"bufio"
	"os"
	"strings"
)

// defaultNoiseTerms are scene-release words that never belong in a caption label
var defaultNoiseTerms = []string{
	"latino", "castellano", "spanish", "english", "subtitulado", "sub", "dual", "doblado",
	"hd", "fhd", "uhd", "full", "completa", "mega", "mediafire", "drive", "link",
	"descargar", "download", "online", "gratis", "free",
	"bluray", "brrip", "bdrip", "dvdrip", "webrip", "web-dl", "webdl", "web", "hdtv", "hdrip",
	"x264", "x265", "h264", "h265", "hevc", "avc", "aac", "ac3", "dts", "10bit",
	"remux", "proper", "repack", "internal",
}

// NoiseFilter holds terms stripped from captions before relabelling
type NoiseFilter struct {
	terms map[string]struct{}
}

// NewNoiseFilter creates a filter from the built-in terms plus extra ones
func NewNoiseFilter(extra ...string) *NoiseFilter {
	f := &NoiseFilter{terms: make(map[string]struct{}, len(defaultNoiseTerms)+len(extra))}
	for _, t := range defaultNoiseTerms {
		f.terms[t] = struct{}{}
	}
	for _, t := range extra {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			f.terms[t] = struct{}{}
		}
	}
	return f
}

// LoadNoiseFilter loads extra noise terms from a file, one per line
func LoadNoiseFilter(path string) (*NoiseFilter, error) {
	// If file doesn't exist, use the built-in list only
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NewNoiseFilter(), nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var terms []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		term := strings.TrimSpace(scanner.Text())
		if term != "" && !strings.HasPrefix(term, "#") {
			terms = append(terms, term)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return NewNoiseFilter(terms...), nil
}

// IsNoise checks if a single word is a noise term
func (f *NoiseFilter) IsNoise(word string) bool {
	_, ok := f.terms[strings.ToLower(word)]
	return ok
}

// Len returns the number of known terms
func (f *NoiseFilter) Len() int {
	return len(f.terms)
}
