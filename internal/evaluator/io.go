package evaluator

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ZstdSuffix marks files that are read and written zstd-compressed.
const ZstdSuffix = ".zst"

// LoadItems reads a JSON array of items from path.
func LoadItems(path string) ([]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ZstdSuffix) {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	return DecodeItems(r)
}

// DecodeItems reads a JSON array of items from r.
func DecodeItems(r io.Reader) ([]Item, error) {
	var items []Item
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return items, nil
}

// WriteResults writes results to path as an indented JSON array, replacing
// any existing file.
func WriteResults(path string, results []Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	var w io.Writer = f
	var enc *zstd.Encoder
	if strings.HasSuffix(path, ZstdSuffix) {
		enc, err = zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("zstd writer: %w", err)
		}
		w = enc
	}

	if err := EncodeResults(w, results); err != nil {
		if enc != nil {
			enc.Close()
		}
		f.Close()
		return err
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			f.Close()
			return fmt.Errorf("close zstd: %w", err)
		}
	}
	return f.Close()
}

// EncodeResults writes results to w as a JSON array indented by four spaces.
func EncodeResults(w io.Writer, results []Result) error {
	if results == nil {
		results = []Result{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	return nil
}
