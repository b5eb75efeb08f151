package cctdb

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/perftools/sparsedb-core/pkg/wire"
)

// RawProfile is one profile's unparsed profile.db data block, as written by
// the formatter: mv-pairs followed by ci-pairs terminated by LastNodeEnd.
type RawProfile struct {
	ProfIndex uint32
	Data      []byte
	NumVals   uint64
}

// ParseProfiles decodes a batch of raw profile.db data blocks into
// LoadedProfiles concurrently, using up to workers goroutines (workers <= 0
// picks GOMAXPROCS). If any profile fails to parse, the first such error in
// input order is returned and no results are returned.
func ParseProfiles(raw []RawProfile, workers int) ([]LoadedProfile, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]LoadedProfile, len(raw))
	errs := make([]error, len(raw))

	jobs := make(chan int, len(raw))
	for i := range raw {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup

	for range min(workers, len(raw)) {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range jobs {
				lp, err := parseOne(raw[i])
				if err != nil {
					errs[i] = fmt.Errorf("cctdb: parse profile %d: %w", raw[i].ProfIndex, err)

					continue
				}

				results[i] = lp
			}
		}()
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return results, nil
}

func parseOne(raw RawProfile) (LoadedProfile, error) {
	mvEnd := int(raw.NumVals) * wire.MVPairSize //nolint:gosec

	if mvEnd > len(raw.Data) {
		return LoadedProfile{}, wire.ErrShortBuffer
	}

	mv := make([]wire.MVPair, raw.NumVals)

	for i := range mv {
		p, err := wire.DecodeMVPair(raw.Data[i*wire.MVPairSize:])
		if err != nil {
			return LoadedProfile{}, err
		}

		mv[i] = p
	}

	var ci []wire.CIPair

	for off := mvEnd; off < len(raw.Data); off += wire.CIPairSize {
		p, err := wire.DecodeCIPair(raw.Data[off:])
		if err != nil {
			return LoadedProfile{}, err
		}

		if p.CtxID == wire.LastNodeEnd {
			break
		}

		ci = append(ci, p)
	}

	return LoadedProfile{ProfIndex: raw.ProfIndex, CIPairs: ci, MVPairs: mv}, nil
}
