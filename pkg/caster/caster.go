// Package caster converts values to and from the string payloads carried
// by Redis channels.
package caster

import (
	"encoding/json"

	"github.com/pkg/errors"
)

type ChannelCaster[T any] interface {
	From(payload string) (T, error)
	To(v T) (string, error)
}

type JSONChannelCaster[T any] struct{}

func (JSONChannelCaster[T]) From(payload string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return v, errors.Wrapf(err, "decoding %T from channel payload", v)
	}
	return v, nil
}

func (JSONChannelCaster[T]) To(v T) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrapf(err, "encoding %T for channel", v)
	}
	return string(data), nil
}
