package reconcile

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
)

// Row is one data line of the CSV file. Error is set when the line could
// not be parsed; such rows are rejected by the per-row algorithm.
type Row struct {
	Line  int      `json:"line"`
	Cells []string `json:"cells"`
	Error string   `json:"error,omitempty"`
}

// Chunk is a fixed-size batch of data rows, the unit of parallel work.
type Chunk struct {
	Index int   `json:"index"`
	Rows  []Row `json:"rows"`
}

// Chunker streams a validated CSV file as chunks. The header row is
// consumed when the chunker is created, so every chunk holds data rows only.
type Chunker struct {
	reader *csv.Reader
	closer io.Closer
	size   int
	index  int
	done   bool
}

// OpenCSV opens path and validates its header against layout. A missing or
// unreadable file is reported as ErrSourceUnavailable.
func OpenCSV(path string, layout Layout, size int) (*Chunker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrSourceUnavailable, path, err)
	}
	c, err := NewChunker(f, layout, size)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	c.closer = f
	return c, nil
}

// NewChunker reads and validates the header from r.
func NewChunker(r io.Reader, layout Layout, size int) (*Chunker, error) {
	if size <= 0 {
		size = ChunkSize
	}
	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && string(bom) == "\xef\xbb\xbf" {
		_, _ = br.Discard(3)
	}
	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: file is empty", ErrHeaderMismatch)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrHeaderMismatch, err)
	}
	if err := layout.Validate(header); err != nil {
		return nil, err
	}
	return &Chunker{reader: reader, size: size}, nil
}

// Next returns the next chunk, or io.EOF once the file is exhausted.
func (c *Chunker) Next() (Chunk, error) {
	if c.done {
		return Chunk{}, io.EOF
	}
	chunk := Chunk{Index: c.index}
	for len(chunk.Rows) < c.size {
		cells, err := c.reader.Read()
		if errors.Is(err, io.EOF) {
			c.done = true
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			chunk.Rows = append(chunk.Rows, Row{Line: perr.StartLine, Error: perr.Error()})
			continue
		}
		if err != nil {
			return Chunk{}, fmt.Errorf("%w: read rows: %v", ErrSourceUnavailable, err)
		}
		line, _ := c.reader.FieldPos(0)
		chunk.Rows = append(chunk.Rows, Row{Line: line, Cells: cells})
	}
	if len(chunk.Rows) == 0 {
		return Chunk{}, io.EOF
	}
	c.index++
	return chunk, nil
}

// Close releases the underlying file, if any.
func (c *Chunker) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// ReadChunks loads every chunk of the file at path.
func ReadChunks(path string, layout Layout, size int) ([]Chunk, error) {
	c, err := OpenCSV(path, layout, size)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = c.Close()
	}()
	var chunks []Chunk
	for {
		chunk, err := c.Next()
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
}
