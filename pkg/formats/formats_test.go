package formats

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/Faultbox/midgard-assets/pkg/container"
)

func newContainer(kind container.Kind, meta string, payload []byte) *container.Container {
	if payload == nil {
		payload = []byte{}
	}
	return &container.Container{
		Kind:     kind,
		Version:  Version,
		Metadata: []byte(meta),
		Payload:  payload,
	}
}

const materialMeta = `{"baseEffect":"default","textures":{},"transparency":"opaque","originalFile":"a.gltf"}`

func TestOpenMetadataErrors(t *testing.T) {
	tests := []struct {
		name    string
		c       *container.Container
		wantErr error
	}{
		{
			name:    "wrong kind",
			c:       newContainer(container.KindMesh, materialMeta, nil),
			wantErr: ErrKindMismatch,
		},
		{
			name: "version 2",
			c: &container.Container{
				Kind:     container.KindMaterial,
				Version:  2,
				Metadata: []byte(materialMeta),
				Payload:  []byte{},
			},
			wantErr: ErrUnsupportedVersion,
		},
		{
			name:    "version 0",
			c:       &container.Container{Kind: container.KindMaterial, Metadata: []byte(materialMeta)},
			wantErr: ErrUnsupportedVersion,
		},
		{
			name:    "not json",
			c:       newContainer(container.KindMaterial, `{"baseEffect":`, nil),
			wantErr: ErrMalformedMetadata,
		},
		{
			name:    "root is array",
			c:       newContainer(container.KindMaterial, `[1,2]`, nil),
			wantErr: ErrTypeMismatch,
		},
		{
			name:    "root is null",
			c:       newContainer(container.KindMaterial, `null`, nil),
			wantErr: ErrTypeMismatch,
		},
		{
			name:    "empty metadata",
			c:       newContainer(container.KindMaterial, ``, nil),
			wantErr: ErrMalformedMetadata,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadMaterial(tt.c)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ReadMaterial() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMetadataComments(t *testing.T) {
	meta := `{
		// edited by hand
		"baseEffect": "lit", /* block */
		"textures": {"baseColor": "wall.tx",},
		"transparency": "masked",
		"originalFile": "wall.gltf",
	}`
	info, err := ReadMaterial(newContainer(container.KindMaterial, meta, nil))
	if err != nil {
		t.Fatalf("ReadMaterial() error: %v", err)
	}
	if info.BaseEffect != "lit" || info.Transparency != Masked {
		t.Errorf("got effect %q transparency %s", info.BaseEffect, info.Transparency)
	}
	if info.Textures["baseColor"] != "wall.tx" {
		t.Errorf("baseColor = %q, want wall.tx", info.Textures["baseColor"])
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	meta := `{"baseEffect":"default","textures":{},"transparency":"opaque","future":{"x":[1,2,3]}}`
	if _, err := ReadMaterial(newContainer(container.KindMaterial, meta, nil)); err != nil {
		t.Errorf("ReadMaterial() error: %v", err)
	}
}

func TestFieldErrorNames(t *testing.T) {
	meta := `{"size":16,"format":"RGBA8","compression":"none","dimensions":{"width":"2","height":2,"depth":1},"originalFile":"a.png"}`
	_, err := ReadTexture(newContainer(container.KindTexture, meta, make([]byte, 16)))
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("error = %v, want ErrTypeMismatch", err)
	}
	if got := err.Error(); !strings.Contains(got, `"dimensions.width"`) {
		t.Errorf("error %q does not name the field", got)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		kind container.Kind
		want string
	}{
		{container.KindTexture, "texture"},
		{container.KindMesh, "mesh"},
		{container.KindMaterial, "material"},
		{container.KindModel, "model"},
		{container.Kind{'A', 'N', 'I', 'M'}, ""},
	}
	for _, tt := range tests {
		if got := KindOf(tt.kind); got != tt.want {
			t.Errorf("KindOf(%s) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestReadProvenance(t *testing.T) {
	c := newContainer(container.KindModel,
		`{"originalFile":"ship.gltf","sourceHash":"abc","assetId":"id-1","nodeMatrixIndex":"ignored"}`, nil)
	p, err := ReadProvenance(c)
	if err != nil {
		t.Fatalf("ReadProvenance() error: %v", err)
	}
	want := Provenance{OriginalFile: "ship.gltf", SourceHash: "abc", AssetID: "id-1"}
	if p != want {
		t.Errorf("ReadProvenance() = %+v, want %+v", p, want)
	}

	tests := []struct {
		name    string
		c       *container.Container
		wantErr error
	}{
		{"unknown kind", newContainer(container.Kind{'A', 'N', 'I', 'M'}, `{}`, nil), ErrKindMismatch},
		{"missing original file", newContainer(container.KindTexture, `{"sourceHash":"abc"}`, nil), ErrMissingField},
		{"wrong hash type", newContainer(container.KindMesh, `{"originalFile":"a","sourceHash":1}`, nil), ErrTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadProvenance(tt.c); !errors.Is(err, tt.wantErr) {
				t.Errorf("ReadProvenance() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// decodeMeta unmarshals the metadata of c into a generic map so tests can
// check which keys a writer emitted.
func decodeMeta(t *testing.T, c *container.Container) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(c.Metadata, &m); err != nil {
		t.Fatalf("metadata is not JSON: %v", err)
	}
	return m
}
