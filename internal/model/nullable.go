package model

import (
	"bytes"
	"encoding/json"
)

// Nullable は部分更新で「未指定」「null」「値あり」を区別する。
// Setがfalseのフィールドは変更しない。SetがtrueでValueがnilの場合はクリアする。
type Nullable[T any] struct {
	Set   bool
	Value *T
}

// NullableOf は値ありのNullableを返す。
func NullableOf[T any](v T) Nullable[T] {
	return Nullable[T]{Set: true, Value: &v}
}

// Null はクリアを表すNullableを返す。
func Null[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}

// UnmarshalJSON はキーが存在した時点でSetをtrueにする。
// キー自体が無い場合は呼ばれないため、未指定のまま残る。
func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

// ApplyTo はSetの場合のみdstをValueで置き換える。
func (n Nullable[T]) ApplyTo(dst **T) {
	if n.Set {
		*dst = n.Value
	}
}
