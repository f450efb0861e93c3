// Copyright 2024 The gen-hypar Authors
// This file is part of the gen-hypar library.
//
// The gen-hypar library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The gen-hypar library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the gen-hypar library. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"
	"unicode"

	"github.com/naoina/toml"

	"github.com/emfa/gen-hypar/hyparview"
)

// tomlSettings mirrors the teacher's convention of keeping TOML key names
// identical to the Go struct field names, and surfacing unknown fields as
// hard errors instead of silently ignoring typos.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// genhypardConfig is the full on-disk/CLI-overridable configuration for
// the daemon.
type genhypardConfig struct {
	ListenAddr string
	Contact    string
	Hyparview  hyparviewConfig
}

// hyparviewConfig is hyparview.Config with its durations expressed in
// plain milliseconds, since TOML has no native duration type.
type hyparviewConfig struct {
	ActiveSize      int
	PassiveSize     int
	ARWL            int
	PRWL            int
	KActive         int
	KPassive        int
	ShufflePeriodMS int
	TimeoutMS       int
	SendTimeoutMS   int
}

func defaultGenhypardConfig() genhypardConfig {
	d := hyparview.DefaultConfig()
	return genhypardConfig{
		ListenAddr: ":7000",
		Hyparview: hyparviewConfig{
			ActiveSize:      d.ActiveSize,
			PassiveSize:     d.PassiveSize,
			ARWL:            int(d.ARWL),
			PRWL:            int(d.PRWL),
			KActive:         d.KActive,
			KPassive:        d.KPassive,
			ShufflePeriodMS: int(d.ShufflePeriod / time.Millisecond),
			TimeoutMS:       int(d.Timeout / time.Millisecond),
			SendTimeoutMS:   int(d.SendTimeout / time.Millisecond),
		},
	}
}

func (c hyparviewConfig) toHyparview() hyparview.Config {
	return hyparview.Config{
		ActiveSize:    c.ActiveSize,
		PassiveSize:   c.PassiveSize,
		ARWL:          uint8(c.ARWL),
		PRWL:          uint8(c.PRWL),
		KActive:       c.KActive,
		KPassive:      c.KPassive,
		ShufflePeriod: time.Duration(c.ShufflePeriodMS) * time.Millisecond,
		Timeout:       time.Duration(c.TimeoutMS) * time.Millisecond,
		SendTimeout:   time.Duration(c.SendTimeoutMS) * time.Millisecond,
	}
}

// loadConfig decodes file into cfg, following the teacher's pattern of
// annotating TOML line errors with the file name.
func loadConfig(file string, cfg *genhypardConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}
