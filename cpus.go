// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package godap

import (
	"context"
	"fmt"

	"github.com/juju/errors"
)

type CpuInfo struct {
	Name         string
	Architecture string
}

var supportedCortexParts = map[uint32]CpuInfo{
	0xc20: {"Cortex-M0", "ARMv6-M"},
	0xc60: {"Cortex-M0+", "ARMv6-M"},
	0xc21: {"Cortex-M1", "ARMv6-M"},
	0xc23: {"Cortex-M3", "ARMv7-M"},
	0xc24: {"Cortex-M4", "ARMv7E-M"},
	0xc27: {"Cortex-M7", "ARMv7E-M"},
	0xd20: {"Cortex-M23", "ARMv8-M Baseline"},
	0xd21: {"Cortex-M33", "ARMv8-M Mainline"},
}

func GetCpuInformation(partNo uint32) *CpuInfo {
	if val, ok := supportedCortexParts[partNo]; ok {
		return &val
	} else {
		return nil
	}
}

// CpuId is a decoded CPUID register
type CpuId struct {
	Implementer uint32
	Variant     uint32
	PartNo      uint32
	Revision    uint32
}

func DecodeCpuId(cpuid uint32) CpuId {
	return CpuId{
		Implementer: cpuid >> 24,
		Variant:     (cpuid >> 20) & 0xf,
		PartNo:      (cpuid >> 4) & 0xfff,
		Revision:    cpuid & 0xf,
	}
}

// TargetName formats CPUID and PID0 as e.g. "ARM Cortex-M4F r0p1"
func TargetName(cpuid uint32, pid0 uint32) string {
	id := DecodeCpuId(cpuid)

	vendor := fmt.Sprintf("implementer 0x%02x", id.Implementer)
	if id.Implementer == 0x41 {
		vendor = "ARM"
	}

	part := fmt.Sprintf("part 0x%03x", id.PartNo)
	if info := GetCpuInformation(id.PartNo); info != nil {
		part = info.Name
	}

	fpu := ""
	if pid0 == 0x0c {
		fpu = "F"
	}

	return fmt.Sprintf("%s %s%s r%dp%d", vendor, part, fpu, id.Variant, id.Revision)
}

// TargetName reads CPUID and PID0 of the connected core.
func (c *CortexM) TargetName(ctx context.Context) (string, error) {
	values, err := c.adi.TransferSequence(ctx,
		c.adi.readMem32Command(regCpuId),
		c.adi.readMem32Command(regPid0),
	)
	if err != nil {
		return "", errors.Annotate(err, "read CPUID")
	}

	c.log.Debugf("CPUID 0x%08x, PID0 0x%08x", values[0], values[1])

	return TargetName(values[0], values[1]), nil
}
