package share

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"canvasCollab/backend/internal/scene"
)

const (
	envelopeType    = "scene"
	envelopeVersion = 2
	envelopeSource  = "canvas-collab"

	maxDecodedSize = 64 << 20
)

// 明文信封：JSON 后再 zstd 压缩，然后才加密
type envelope struct {
	Type     string          `json:"type"`
	Version  int             `json:"version"`
	Source   string          `json:"source"`
	Elements []scene.Element `json:"elements"`
	AppState map[string]any  `json:"appState,omitempty"`
	Files    map[string]any  `json:"files,omitempty"`
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("share: zstd encoder init: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
	if err != nil {
		panic("share: zstd decoder init: " + err.Error())
	}
}

func encodeDocument(doc scene.Document) ([]byte, error) {
	elements := doc.Elements
	if elements == nil {
		elements = []scene.Element{}
	}
	data, err := json.Marshal(envelope{
		Type:     envelopeType,
		Version:  envelopeVersion,
		Source:   envelopeSource,
		Elements: elements,
		AppState: doc.AppState,
		Files:    doc.Files,
	})
	if err != nil {
		return nil, err
	}
	return zstdEncoder.EncodeAll(data, nil), nil
}

func decodeDocument(compressed []byte) (scene.Document, error) {
	data, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return scene.Document{}, fmt.Errorf("zstd decompress: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return scene.Document{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type != envelopeType {
		return scene.Document{}, fmt.Errorf("unexpected envelope type %q", env.Type)
	}
	return scene.Document{Elements: env.Elements, AppState: env.AppState, Files: env.Files}, nil
}
