package checkpoint

import (
	"math"
	"path/filepath"
	"reflect"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"digit-forge/internal/model"
)

func sampleFile() File {
	return File{
		RunID: "0b6f1c8e-run",
		Epoch: 3,
		Spec:  model.Spec{Input: 784, Hidden: []int{128, 64}, Classes: 10, Activation: model.ReLU},
		Params: []model.Parameter{
			{Name: "w0", Shape: []int{2, 2}, Data: []float64{0.1, -2.5, math.SmallestNonzeroFloat64, math.Inf(1)}},
			{Name: "b0", Shape: []int{1, 2}, Data: []float64{0, -0}},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.ckpt")
	want := sampleFile()
	if err := Save(path, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	b := Marshal(sampleFile())
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)
	b = protowire.AppendTag(b, 100, protowire.BytesType)
	b = protowire.AppendString(b, "future")
	got, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Epoch != 3 || len(got.Params) != 2 {
		t.Fatalf("unexpected decode %+v", got)
	}
}

func TestUnmarshalTruncated(t *testing.T) {
	b := Marshal(sampleFile())
	if _, err := Unmarshal(b[:len(b)-3]); err == nil {
		t.Fatal("expected error for truncated checkpoint")
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.ckpt")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
