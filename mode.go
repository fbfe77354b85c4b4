// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package godap

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
)

type ConnectMode uint8 // debug port connection mode

const (
	ConnectModeDefault ConnectMode = 0
	ConnectModeSwd     ConnectMode = 1
	ConnectModeJtag    ConnectMode = 2
)

// probe answers 0 if the port could not be initialized
const connectModeFailed ConnectMode = 0

func (m ConnectMode) String() string {
	switch m {
	case ConnectModeDefault:
		return "default"
	case ConnectModeSwd:
		return "swd"
	case ConnectModeJtag:
		return "jtag"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseConnectMode converts "default", "swd" or "jtag" into a ConnectMode.
func ParseConnectMode(s string) (ConnectMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return ConnectModeDefault, nil
	case "swd":
		return ConnectModeSwd, nil
	case "jtag":
		return ConnectModeJtag, nil
	default:
		return ConnectModeDefault, errors.NotValidf("connect mode %q", s)
	}
}

func (m *ConnectMode) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string

	if err := unmarshal(&s); err != nil {
		return err
	}

	mode, err := ParseConnectMode(s)
	if err != nil {
		return err
	}

	*m = mode
	return nil
}

func (m ConnectMode) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

// selectSequence returns the bit pattern switching the SWJ port into the protocol of m
func (m ConnectMode) selectSequence() uint16 {
	if m == ConnectModeJtag {
		return jtagSelectSequence
	}

	return swdSelectSequence
}

type HostStatus uint8 // indicator type for DAP_HostStatus

const (
	HostStatusConnected HostStatus = 0
	HostStatusRunning   HostStatus = 1
)
