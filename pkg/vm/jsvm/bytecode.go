package jsvm

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fortiblox/hostvm/pkg/host"
	"github.com/fortiblox/hostvm/pkg/result"
	"github.com/klauspost/compress/zstd"
)

// Bytecode layout:
//   - magic "TVMB" (4 bytes)
//   - format version (1 byte)
//   - parse kind (1 byte)
//   - zstd frame holding the source
var bytecodeMagic = []byte("TVMB")

const (
	bytecodeVersion = 1
	headerSize      = 6

	// maxSourceSize bounds the decoded source.
	maxSourceSize = 4 << 20
)

// ErrBadBytecode is returned for input that is not valid bytecode.
var ErrBadBytecode = result.NewError(result.CodeSyntaxError, "malformed bytecode")

var encoder = mustEncoder()

func mustEncoder() *zstd.Encoder {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		panic(err)
	}
	return enc
}

// Compile checks that source parses as kind and packs it into bytecode.
func Compile(source string, kind host.ParseKind) ([]byte, error) {
	if _, err := parse(source, "bytecode", kind); err != nil {
		return nil, err
	}
	out := make([]byte, 0, headerSize+len(source)/2)
	out = append(out, bytecodeMagic...)
	out = append(out, bytecodeVersion, byte(kind))
	return encoder.EncodeAll([]byte(source), out), nil
}

// Decode unpacks bytecode produced by Compile.
func Decode(code []byte) (string, host.ParseKind, error) {
	if len(code) < headerSize || !bytes.Equal(code[:len(bytecodeMagic)], bytecodeMagic) {
		return "", 0, fmt.Errorf("%w: bad header", ErrBadBytecode)
	}
	if v := code[4]; v != bytecodeVersion {
		return "", 0, fmt.Errorf("%w: unsupported version %d", ErrBadBytecode, v)
	}
	kind := host.ParseKind(code[5])
	if kind > host.ParseEval {
		return "", 0, fmt.Errorf("%w: unknown parse kind %d", ErrBadBytecode, code[5])
	}
	dec, err := zstd.NewReader(bytes.NewReader(code[headerSize:]))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrBadBytecode, err)
	}
	defer dec.Close()

	// Stop one byte past the limit so oversized frames are never fully
	// decompressed.
	src, err := io.ReadAll(io.LimitReader(dec, maxSourceSize+1))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrBadBytecode, err)
	}
	if len(src) > maxSourceSize {
		return "", 0, fmt.Errorf("%w: source exceeds %d bytes", ErrBadBytecode, maxSourceSize)
	}
	return string(src), kind, nil
}
