package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
)

type sweepChecksumBrowser struct {
	Key        string `json:"key"`
	Index      int    `json:"index"`
	Executable string `json:"executable"`
	Args       string `json:"args,omitempty"`
}

type sweepChecksumPayload struct {
	Iterations  int                    `json:"iterations"`
	MeasureSets []string               `json:"measure_sets"`
	Browsers    []sweepChecksumBrowser `json:"browsers"`
	Scenarios   []ScenarioConfig       `json:"scenarios"`
	Extensions  []ExtensionConfig      `json:"extensions,omitempty"`
}

// SweepChecksum returns a short, stable checksum that identifies the sweep
// (browsers, scenarios, iterations and measure sets), independent of map order
// and of where results are written.
//
// It computes MD5 over a canonical JSON representation and returns the first 6 hex
// characters (equivalent to `md5sum | cut -c1-6`).
func SweepChecksum(cfg *BenchmarkConfig) (string, error) {
	if cfg == nil {
		return "", nil
	}

	browsers := make([]sweepChecksumBrowser, 0, len(cfg.Browsers))
	for key, b := range cfg.Browsers {
		browsers = append(browsers, sweepChecksumBrowser{
			Key:        key,
			Index:      b.Index,
			Executable: b.Executable,
			Args:       b.Args,
		})
	}

	sort.Slice(browsers, func(i, j int) bool {
		if browsers[i].Index != browsers[j].Index {
			return browsers[i].Index < browsers[j].Index
		}
		return browsers[i].Key < browsers[j].Key
	})

	measureSets := append([]string(nil), cfg.MeasureSets...)
	sort.Strings(measureSets)

	payload := sweepChecksumPayload{
		Iterations:  cfg.Benchmark.Iterations,
		MeasureSets: measureSets,
		Browsers:    browsers,
		Scenarios:   cfg.Scenarios,
		Extensions:  cfg.Extensions,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := md5.Sum(b)
	hexStr := hex.EncodeToString(sum[:])
	if len(hexStr) > 6 {
		hexStr = hexStr[:6]
	}
	return hexStr, nil
}
