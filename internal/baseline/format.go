package baseline

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/nvandessel/tracegraph/internal/models"
)

// FormatV1 is the current snapshot blob version.
const FormatV1 = 1

// MaxDecompressedSize is the maximum allowed size of a decompressed snapshot (200MB).
const MaxDecompressedSize = 200 * 1024 * 1024

// ErrCorruptBaseline is wrapped by every decode failure of a stored blob.
var ErrCorruptBaseline = errors.New("corrupt baseline snapshot")

// Header is the plain JSON first line of an encoded snapshot.
type Header struct {
	Version   int    `json:"version"`
	Checksum  string `json:"checksum"`
	NodeCount int    `json:"node_count"`
	EdgeCount int    `json:"edge_count"`
}

// Encode serializes a snapshot as a header line followed by the
// zstd-compressed JSON payload.
func Encode(snap *models.GraphSnapshot) ([]byte, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}

	var compressed bytes.Buffer
	encoder, err := zstd.NewWriter(&compressed)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	if _, err := encoder.Write(payload); err != nil {
		encoder.Close()
		return nil, fmt.Errorf("compressing: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("closing encoder: %w", err)
	}

	header := Header{
		Version:   FormatV1,
		Checksum:  checksum(compressed.Bytes()),
		NodeCount: len(snap.Nodes),
		EdgeCount: len(snap.Edges),
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshaling header: %w", err)
	}

	out := make([]byte, 0, len(headerBytes)+1+compressed.Len())
	out = append(out, headerBytes...)
	out = append(out, '\n')
	out = append(out, compressed.Bytes()...)
	return out, nil
}

// ReadHeader parses only the header line of an encoded snapshot.
func ReadHeader(blob []byte) (*Header, []byte, error) {
	reader := bufio.NewReader(bytes.NewReader(blob))
	headerLine, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading header line: %v", ErrCorruptBaseline, err)
	}

	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(headerLine), &header); err != nil {
		return nil, nil, fmt.Errorf("%w: parsing header: %v", ErrCorruptBaseline, err)
	}
	if header.Version != FormatV1 {
		return nil, nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptBaseline, header.Version)
	}
	return &header, blob[len(headerLine):], nil
}

// Decode verifies and decompresses an encoded snapshot.
func Decode(blob []byte) (*models.GraphSnapshot, error) {
	header, compressed, err := ReadHeader(blob)
	if err != nil {
		return nil, err
	}

	if actual := checksum(compressed); actual != header.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch: expected %s, got %s", ErrCorruptBaseline, header.Checksum, actual)
	}

	decoder, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: creating zstd decoder: %v", ErrCorruptBaseline, err)
	}
	defer decoder.Close()

	decompressed, err := io.ReadAll(io.LimitReader(decoder, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing: %v", ErrCorruptBaseline, err)
	}
	if int64(len(decompressed)) > MaxDecompressedSize {
		return nil, fmt.Errorf("%w: decompressed payload exceeds maximum size of %d bytes", ErrCorruptBaseline, MaxDecompressedSize)
	}

	var snap models.GraphSnapshot
	if err := json.Unmarshal(decompressed, &snap); err != nil {
		return nil, fmt.Errorf("%w: parsing snapshot: %v", ErrCorruptBaseline, err)
	}
	if snap.Nodes == nil {
		snap.Nodes = []models.Node{}
	}
	if snap.Edges == nil {
		snap.Edges = []models.Edge{}
	}
	return &snap, nil
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}
