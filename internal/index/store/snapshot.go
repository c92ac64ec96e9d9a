package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Snapshot files carry one relation each in a column-oriented layout:
// a fixed binary header, a zstd-compressed JSON payload of column arrays
// keyed by the relation's column names, and a CRC footer. Files are written
// to a .tmp path and renamed so a crashed export never leaves a torn
// snapshot behind.
const (
	snapshotMagic   uint32 = 0x49534E50 // "ISNP"
	snapshotVersion uint32 = 1
	snapshotHeader  int    = 32
	snapshotFooter  int    = 16
	snapshotExt            = ".isnap"
)

// SnapshotInfo summarises one exported or restored relation file.
type SnapshotInfo struct {
	Relation string `json:"relation"`
	Rows     int64  `json:"rows"`
	Path     string `json:"path"`
}

type snapshotPayload[C any] struct {
	Relation string `json:"relation"`
	Rows     int64  `json:"rows"`
	Columns  C      `json:"columns"`
}

type termColumns struct {
	TermID            []int64  `json:"term_id"`
	Term              []string `json:"term"`
	DocumentFrequency []int64  `json:"document_frequency"`
}

type documentColumns struct {
	DocID  []int64  `json:"doc_id"`
	Length []int64  `json:"length"`
	Status []string `json:"status"`
}

type postingColumns struct {
	TermID        []int64 `json:"term_id"`
	DocID         []int64 `json:"doc_id"`
	TermFrequency []int64 `json:"term_frequency"`
}

type contentColumns struct {
	DocID   []int64  `json:"doc_id"`
	Content []string `json:"content"`
}

type metaColumns struct {
	Key   []string `json:"key"`
	Value []string `json:"value"`
}

// ExportSnapshots writes one snapshot file per relation into dir, all read
// from a single consistent view of the store.
func (s *Store) ExportSnapshots(ctx context.Context, dir string) ([]SnapshotInfo, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	var infos []SnapshotInfo
	err := s.InReadTx(ctx, func(tx *sql.Tx) error {
		exports := []struct {
			relation string
			dump     func(context.Context, *sql.Tx) (any, int64, error)
		}{
			{"terms", s.dumpTerms},
			{"documents", s.dumpDocuments},
			{"postings", s.dumpPostings},
			{"contents", s.dumpContents},
			{"meta", s.dumpMeta},
		}
		for _, e := range exports {
			columns, rows, err := e.dump(ctx, tx)
			if err != nil {
				return err
			}
			path := filepath.Join(dir, e.relation+snapshotExt)
			if err := writeSnapshotFile(path, e.relation, rows, columns); err != nil {
				return err
			}
			infos = append(infos, SnapshotInfo{Relation: e.relation, Rows: rows, Path: path})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("snapshots exported", "dir", dir, "relations", len(infos))
	return infos, nil
}

// RestoreSnapshots replaces the store content with the relations read from
// dir, inside one transaction. The id counters are raised past both the
// restored counters and the restored rows, and the mutation sequence is
// bumped past its pre-restore value so stale cache keys cannot alias the
// restored index.
func (s *Store) RestoreSnapshots(ctx context.Context, dir string) ([]SnapshotInfo, error) {
	terms, err := readSnapshotFile[termColumns](filepath.Join(dir, "terms"+snapshotExt), "terms")
	if err != nil {
		return nil, err
	}
	documents, err := readSnapshotFile[documentColumns](filepath.Join(dir, "documents"+snapshotExt), "documents")
	if err != nil {
		return nil, err
	}
	postings, err := readSnapshotFile[postingColumns](filepath.Join(dir, "postings"+snapshotExt), "postings")
	if err != nil {
		return nil, err
	}
	contents, err := readSnapshotFile[contentColumns](filepath.Join(dir, "contents"+snapshotExt), "contents")
	if err != nil {
		return nil, err
	}
	meta, err := readSnapshotFile[metaColumns](filepath.Join(dir, "meta"+snapshotExt), "meta")
	if err != nil {
		return nil, err
	}

	err = s.InTx(ctx, func(tx *sql.Tx) error {
		seqBefore, err := s.MutationSeq(ctx, tx)
		if err != nil {
			return err
		}

		for _, table := range []string{"postings", "contents", "documents", "terms"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}

		if err := s.restoreTerms(ctx, tx, terms.Columns); err != nil {
			return err
		}
		if err := s.restoreDocuments(ctx, tx, documents.Columns); err != nil {
			return err
		}
		if err := s.restorePostings(ctx, tx, postings.Columns); err != nil {
			return err
		}
		if err := s.restoreContents(ctx, tx, contents.Columns); err != nil {
			return err
		}

		upsert := s.rebind(`INSERT INTO index_meta (key, value) VALUES (?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value`)
		for i, key := range meta.Columns.Key {
			if _, err := tx.ExecContext(ctx, upsert, key, meta.Columns.Value[i]); err != nil {
				return fmt.Errorf("restoring meta %s: %w", key, err)
			}
		}

		var maxDocID, maxTermID int64
		for _, id := range documents.Columns.DocID {
			if id > maxDocID {
				maxDocID = id
			}
		}
		for _, id := range terms.Columns.TermID {
			if id > maxTermID {
				maxTermID = id
			}
		}
		if err := s.EnsureNextDocIDAbove(ctx, tx, maxDocID); err != nil {
			return err
		}
		nextTerm, err := s.metaIntLocked(ctx, tx, metaNextTermID)
		if err != nil {
			return err
		}
		if maxTermID >= nextTerm {
			if err := s.setMetaInt(ctx, tx, metaNextTermID, maxTermID+1); err != nil {
				return err
			}
		}

		seqRestored, err := s.MutationSeq(ctx, tx)
		if err != nil {
			return err
		}
		seq := seqRestored
		if seqBefore > seq {
			seq = seqBefore
		}
		return s.setMetaInt(ctx, tx, metaMutationSeq, seq+1)
	})
	if err != nil {
		return nil, err
	}

	infos := []SnapshotInfo{
		{Relation: "terms", Rows: terms.Rows},
		{Relation: "documents", Rows: documents.Rows},
		{Relation: "postings", Rows: postings.Rows},
		{Relation: "contents", Rows: contents.Rows},
		{Relation: "meta", Rows: meta.Rows},
	}
	s.logger.Info("snapshots restored", "dir", dir,
		"documents", documents.Rows, "postings", postings.Rows)
	return infos, nil
}

func (s *Store) dumpTerms(ctx context.Context, tx *sql.Tx) (any, int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT term_id, term, document_frequency FROM terms ORDER BY term_id`)
	if err != nil {
		return nil, 0, fmt.Errorf("dumping terms: %w", err)
	}
	defer rows.Close()
	var cols termColumns
	for rows.Next() {
		var id, df int64
		var term string
		if err := rows.Scan(&id, &term, &df); err != nil {
			return nil, 0, fmt.Errorf("scanning term: %w", err)
		}
		cols.TermID = append(cols.TermID, id)
		cols.Term = append(cols.Term, term)
		cols.DocumentFrequency = append(cols.DocumentFrequency, df)
	}
	return cols, int64(len(cols.TermID)), rows.Err()
}

func (s *Store) dumpDocuments(ctx context.Context, tx *sql.Tx) (any, int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT doc_id, length, status FROM documents ORDER BY doc_id`)
	if err != nil {
		return nil, 0, fmt.Errorf("dumping documents: %w", err)
	}
	defer rows.Close()
	var cols documentColumns
	for rows.Next() {
		var id, length int64
		var status string
		if err := rows.Scan(&id, &length, &status); err != nil {
			return nil, 0, fmt.Errorf("scanning document: %w", err)
		}
		cols.DocID = append(cols.DocID, id)
		cols.Length = append(cols.Length, length)
		cols.Status = append(cols.Status, status)
	}
	return cols, int64(len(cols.DocID)), rows.Err()
}

func (s *Store) dumpPostings(ctx context.Context, tx *sql.Tx) (any, int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT term_id, doc_id, term_frequency FROM postings ORDER BY term_id, doc_id`)
	if err != nil {
		return nil, 0, fmt.Errorf("dumping postings: %w", err)
	}
	defer rows.Close()
	var cols postingColumns
	for rows.Next() {
		var termID, docID, tf int64
		if err := rows.Scan(&termID, &docID, &tf); err != nil {
			return nil, 0, fmt.Errorf("scanning posting: %w", err)
		}
		cols.TermID = append(cols.TermID, termID)
		cols.DocID = append(cols.DocID, docID)
		cols.TermFrequency = append(cols.TermFrequency, tf)
	}
	return cols, int64(len(cols.TermID)), rows.Err()
}

func (s *Store) dumpContents(ctx context.Context, tx *sql.Tx) (any, int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT doc_id, content FROM contents ORDER BY doc_id`)
	if err != nil {
		return nil, 0, fmt.Errorf("dumping contents: %w", err)
	}
	defer rows.Close()
	var cols contentColumns
	for rows.Next() {
		var id int64
		var content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, 0, fmt.Errorf("scanning content: %w", err)
		}
		cols.DocID = append(cols.DocID, id)
		cols.Content = append(cols.Content, content)
	}
	return cols, int64(len(cols.DocID)), rows.Err()
}

func (s *Store) dumpMeta(ctx context.Context, tx *sql.Tx) (any, int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT key, value FROM index_meta ORDER BY key`)
	if err != nil {
		return nil, 0, fmt.Errorf("dumping meta: %w", err)
	}
	defer rows.Close()
	var cols metaColumns
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, 0, fmt.Errorf("scanning meta: %w", err)
		}
		cols.Key = append(cols.Key, key)
		cols.Value = append(cols.Value, value)
	}
	return cols, int64(len(cols.Key)), rows.Err()
}

func (s *Store) restoreTerms(ctx context.Context, tx *sql.Tx, cols termColumns) error {
	insert := s.rebind(`INSERT INTO terms (term_id, term, document_frequency) VALUES (?, ?, ?)`)
	for i, id := range cols.TermID {
		if _, err := tx.ExecContext(ctx, insert, id, cols.Term[i], cols.DocumentFrequency[i]); err != nil {
			return fmt.Errorf("restoring term %d: %w", id, err)
		}
	}
	return nil
}

func (s *Store) restoreDocuments(ctx context.Context, tx *sql.Tx, cols documentColumns) error {
	insert := s.rebind(`INSERT INTO documents (doc_id, length, status) VALUES (?, ?, ?)`)
	for i, id := range cols.DocID {
		if _, err := tx.ExecContext(ctx, insert, id, cols.Length[i], cols.Status[i]); err != nil {
			return fmt.Errorf("restoring document %d: %w", id, err)
		}
	}
	return nil
}

func (s *Store) restorePostings(ctx context.Context, tx *sql.Tx, cols postingColumns) error {
	for start := 0; start < len(cols.TermID); start += postingInsertChunk {
		end := start + postingInsertChunk
		if end > len(cols.TermID) {
			end = len(cols.TermID)
		}
		query := `INSERT INTO postings (term_id, doc_id, term_frequency) VALUES `
		args := make([]any, 0, (end-start)*3)
		for i := start; i < end; i++ {
			if i > start {
				query += ", "
			}
			query += "(?, ?, ?)"
			args = append(args, cols.TermID[i], cols.DocID[i], cols.TermFrequency[i])
		}
		if _, err := tx.ExecContext(ctx, s.rebind(query), args...); err != nil {
			return fmt.Errorf("restoring postings: %w", err)
		}
	}
	return nil
}

func (s *Store) restoreContents(ctx context.Context, tx *sql.Tx, cols contentColumns) error {
	insert := s.rebind(`INSERT INTO contents (doc_id, content) VALUES (?, ?)`)
	for i, id := range cols.DocID {
		if _, err := tx.ExecContext(ctx, insert, id, cols.Content[i]); err != nil {
			return fmt.Errorf("restoring content %d: %w", id, err)
		}
	}
	return nil
}

func writeSnapshotFile(path, relation string, rows int64, columns any) error {
	raw, err := json.Marshal(snapshotPayload[any]{
		Relation: relation,
		Rows:     rows,
		Columns:  columns,
	})
	if err != nil {
		return fmt.Errorf("marshaling %s snapshot: %w", relation, err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	compressed := enc.EncodeAll(raw, nil)
	enc.Close()

	header := make([]byte, snapshotHeader)
	binary.LittleEndian.PutUint32(header[0:4], snapshotMagic)
	binary.LittleEndian.PutUint32(header[4:8], snapshotVersion)
	binary.LittleEndian.PutUint64(header[8:16], uint64(rows))
	binary.LittleEndian.PutUint64(header[16:24], uint64(len(compressed)))
	binary.LittleEndian.PutUint64(header[24:32], uint64(time.Now().Unix()))

	footer := make([]byte, snapshotFooter)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(compressed))
	binary.LittleEndian.PutUint64(footer[4:12], uint64(len(raw)))

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating snapshot file: %w", err)
	}
	defer f.Close()
	for _, chunk := range [][]byte{header, compressed, footer} {
		if _, err := f.Write(chunk); err != nil {
			return fmt.Errorf("writing snapshot %s: %w", relation, err)
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing snapshot %s: %w", relation, err)
	}
	f.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming snapshot %s: %w", relation, err)
	}
	return nil
}

func readSnapshotFile[C any](path, relation string) (snapshotPayload[C], error) {
	var payload snapshotPayload[C]
	data, err := os.ReadFile(path)
	if err != nil {
		return payload, fmt.Errorf("reading snapshot %s: %w", relation, err)
	}
	if len(data) < snapshotHeader+snapshotFooter {
		return payload, fmt.Errorf("snapshot %s: file truncated (%d bytes)", relation, len(data))
	}

	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != snapshotMagic {
		return payload, fmt.Errorf("snapshot %s: bad magic bytes %x", relation, magic)
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != snapshotVersion {
		return payload, fmt.Errorf("snapshot %s: unsupported version %d", relation, version)
	}
	rows := int64(binary.LittleEndian.Uint64(data[8:16]))
	payloadSize := binary.LittleEndian.Uint64(data[16:24])
	if uint64(len(data)) != uint64(snapshotHeader+snapshotFooter)+payloadSize {
		return payload, fmt.Errorf("snapshot %s: payload size mismatch", relation)
	}

	compressed := data[snapshotHeader : snapshotHeader+int(payloadSize)]
	footer := data[len(data)-snapshotFooter:]
	if crc := binary.LittleEndian.Uint32(footer[0:4]); crc != crc32.ChecksumIEEE(compressed) {
		return payload, fmt.Errorf("snapshot %s: checksum mismatch", relation)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return payload, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return payload, fmt.Errorf("snapshot %s: decompressing payload: %w", relation, err)
	}

	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("snapshot %s: parsing payload: %w", relation, err)
	}
	if payload.Relation != relation {
		return payload, fmt.Errorf("snapshot %s: file contains relation %q", relation, payload.Relation)
	}
	if payload.Rows != rows {
		return payload, fmt.Errorf("snapshot %s: header row count %d does not match payload %d", relation, rows, payload.Rows)
	}
	return payload, nil
}
