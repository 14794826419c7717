package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"

	"sardis/internal/store"
)

// exportRecord is the NDJSON line shape mandated by spec §6's ledger
// export format.
type exportRecord struct {
	LtxID         string          `json:"ltx_id"`
	PrevHash      string          `json:"prev_hash"`
	EntryHash     string          `json:"entry_hash"`
	PayloadDigest string          `json:"payload_digest"`
	CreatedAt     string          `json:"created_at"`
	Kind          string          `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
}

// parquetExportRow is the columnar mirror of exportRecord used for the
// bulk-compliance Parquet evidence bundle, grounded on the teacher's
// services/otc-gateway/recon.ReportFile dual CSV+Parquet export.
type parquetExportRow struct {
	LtxID         string `parquet:"name=ltx_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	PrevHash      string `parquet:"name=prev_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	EntryHash     string `parquet:"name=entry_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	PayloadDigest string `parquet:"name=payload_digest, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt     string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind          string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Manifest accompanies an evidence bundle: a SHA-256 over the
// concatenation of every exported record plus the window's Merkle root.
type Manifest struct {
	OrgID        string `json:"org_id"`
	WindowStart  string `json:"window_start"`
	WindowEnd    string `json:"window_end"`
	RecordCount  int    `json:"record_count"`
	ConcatSHA256 string `json:"concat_sha256"`
	MerkleRoot   string `json:"merkle_root"`
}

// ExportNDJSON streams every entry for orgID in [windowStart, windowEnd]
// to w as newline-delimited JSON and returns the accompanying manifest.
func ExportNDJSON(db *gorm.DB, orgID string, windowStart, windowEnd time.Time, w io.Writer) (*Manifest, error) {
	var entries []store.LedgerEntry
	if err := db.Where("org_id = ? AND created_at BETWEEN ? AND ?", orgID, windowStart, windowEnd).
		Order("seq ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("ledger: export query: %w", err)
	}
	hasher := sha256.New()
	leaves := make([]string, 0, len(entries))
	for _, e := range entries {
		rec := exportRecord{
			LtxID: e.LtxID, PrevHash: e.PrevHash, EntryHash: e.EntryHash,
			PayloadDigest: e.PayloadDigest, CreatedAt: e.CreatedAt.Format(time.RFC3339Nano),
			Kind: e.Kind, Payload: json.RawMessage(e.Payload),
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("ledger: marshal export record: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return nil, fmt.Errorf("ledger: write export record: %w", err)
		}
		hasher.Write(line)
		leaves = append(leaves, e.EntryHash)
	}
	return &Manifest{
		OrgID:        orgID,
		WindowStart:  windowStart.Format(time.RFC3339),
		WindowEnd:    windowEnd.Format(time.RFC3339),
		RecordCount:  len(entries),
		ConcatSHA256: hex.EncodeToString(hasher.Sum(nil)),
		MerkleRoot:   merkleRoot(leaves),
	}, nil
}

// ExportParquetBundle writes the same window to a Parquet file at path,
// for bulk compliance pulls that prefer a columnar format over NDJSON.
func ExportParquetBundle(db *gorm.DB, orgID string, windowStart, windowEnd time.Time, path string) error {
	var entries []store.LedgerEntry
	if err := db.Where("org_id = ? AND created_at BETWEEN ? AND ?", orgID, windowStart, windowEnd).
		Order("seq ASC").Find(&entries).Error; err != nil {
		return fmt.Errorf("ledger: parquet export query: %w", err)
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("ledger: open parquet file: %w", err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(parquetExportRow), 4)
	if err != nil {
		return fmt.Errorf("ledger: new parquet writer: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, e := range entries {
		row := parquetExportRow{
			LtxID: e.LtxID, PrevHash: e.PrevHash, EntryHash: e.EntryHash,
			PayloadDigest: e.PayloadDigest, CreatedAt: e.CreatedAt.Format(time.RFC3339Nano),
			Kind: e.Kind,
		}
		if err := pw.Write(row); err != nil {
			return fmt.Errorf("ledger: write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("ledger: finalize parquet file: %w", err)
	}
	return nil
}
