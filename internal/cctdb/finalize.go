package cctdb

import (
	"context"
	"fmt"
	"io"

	"github.com/perftools/sparsedb-core/pkg/rankio"
	"github.com/perftools/sparsedb-core/pkg/wire"
)

// Finalize writes cct.db's header and full ctx-info section from rank 0,
// then the trailing footer from the highest-ranked member of the cohort —
// after an explicit barrier confirming every rank's context blobs (written
// by RunGroups at their precomputed offsets) have landed. Every rank must
// call Finalize with the same offsets (from ComputeOffsets) and pointers.
func Finalize(
	ctx context.Context,
	cohort rankio.Cohort,
	file io.WriterAt,
	offsets Offsets,
	dataSecPtr uint64,
	ctxInfoSecPtr uint64,
	localBytesWritten uint64,
) error {
	if cohort.Rank() == 0 {
		header := wire.CCTDBHeader{
			NumCtxs:        uint32(len(offsets.CtxIDs)), //nolint:gosec
			CtxInfoSecPtr:  ctxInfoSecPtr,
			CtxInfoSecSize: uint64(len(offsets.CtxIDs)) * wire.CtxInfoSize,
		}

		headerBytes := header.Encode(nil)
		if _, err := file.WriteAt(headerBytes, 0); err != nil {
			return fmt.Errorf("cctdb: write header: %w", err)
		}

		var ctxInfoBytes []byte

		for _, id := range offsets.CtxIDs {
			info := offsets.Infos[id]
			// ctx-info's Offset field is the absolute file position a
			// reader preads: the relative prefix-sum ComputeOffsets
			// produced, biased by the data section's own base.
			info.Offset = dataSecPtr + info.Offset
			ctxInfoBytes = info.Encode(ctxInfoBytes)
		}

		if _, err := file.WriteAt(ctxInfoBytes, int64(ctxInfoSecPtr)); err != nil { //nolint:gosec
			return fmt.Errorf("cctdb: write ctx-info section: %w", err)
		}
	}

	// Every rank's context blobs must be durably written, and rank 0's
	// header/ctx-info section written, before anyone writes the footer.
	cohort.Barrier(ctx)

	totalDataBytes := cohort.AllreduceSum(ctx, localBytesWritten)

	if cohort.Rank() == cohort.Size()-1 {
		footerOffset := dataSecPtr + totalDataBytes

		if _, err := file.WriteAt(wire.EncodeCCTDBFooter(nil), int64(footerOffset)); err != nil { //nolint:gosec
			return fmt.Errorf("cctdb: write footer: %w", err)
		}
	}

	return nil
}
