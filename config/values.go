package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	umath "github.com/michaelpento.lv/arbengine/utils/math"
)

// Amount is a token amount in base units. It decodes from a bare integer or from a
// string such as "0.01 ether" or "50 gwei".
type Amount struct {
	v *big.Int
}

// NewAmount wraps a copy of v.
func NewAmount(v *big.Int) Amount {
	return Amount{v: umath.Clone(v)}
}

// MustAmount parses s and panics on error. Intended for defaults and tests.
func MustAmount(s string) Amount {
	v, err := umath.ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return Amount{v: v}
}

// Int returns a copy of the amount. An unset amount is zero.
func (a Amount) Int() *big.Int {
	return umath.Clone(a.v)
}

// IsSet reports whether a value was configured
func (a Amount) IsSet() bool {
	return a.v != nil
}

func (a Amount) String() string {
	if a.v == nil {
		return "0"
	}
	return a.v.String()
}

func (a *Amount) set(s string) error {
	v, err := umath.ParseAmount(s)
	if err != nil {
		return err
	}
	a.v = v
	return nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("amount must be a string or integer: %s", string(data))
		}
		s = n.String()
	}
	return a.set(s)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return a.set(s)
}

func (a Amount) MarshalYAML() (interface{}, error) {
	return a.String(), nil
}

// Duration decodes from "2s" style strings or integer milliseconds.
type Duration time.Duration

// D returns the value as a time.Duration
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.set(s)
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("duration must be a string or milliseconds: %s", string(data))
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var ms int64
	if err := unmarshal(&ms); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.set(s)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}
