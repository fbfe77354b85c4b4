// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package godap

// registerCache remembers the last value written to one register
type registerCache struct {
	register uint32
	value    uint32
	valid    bool
}

func (c *registerCache) matches(register uint32, value uint32) bool {
	return c.valid && c.register == register && c.value == value
}

func (c *registerCache) set(register uint32, value uint32) {
	c.register = register
	c.value = value
	c.valid = true
}

func (c *registerCache) invalidate() {
	*c = registerCache{}
}

// apSelect returns the SELECT value addressing the AP and bank of register
func apSelect(register uint32) uint32 {
	return (register & apSelMask) | (register & apBankSelMask)
}

func apWireRegister(register uint32) uint8 {
	return uint8(register & apRegMask)
}

func (a *Adi) invalidateCaches() {
	a.selectedAddress.invalidate()
	a.cswValue.invalidate()
}

// writeDPCommand returns the operations for a DP write. Writing the
// currently selected SELECT value yields no operation.
func (a *Adi) writeDPCommand(register uint8, value uint32) []Operation {
	if register == DpSelect {
		if a.selectedAddress.matches(uint32(DpSelect), value) {
			return nil
		}

		a.selectedAddress.set(uint32(DpSelect), value)
	}

	return []Operation{DpWrite(register, value)}
}

func (a *Adi) readDPCommand(register uint8) []Operation {
	return []Operation{DpRead(register)}
}

// writeAPCommand returns the operations for an AP write, preceded by a
// SELECT write if the AP or bank changes. Rewriting an unchanged CSW yields
// no operation.
func (a *Adi) writeAPCommand(register uint32, value uint32) []Operation {
	if register&apRegOffset == ApCsw {
		if a.cswValue.matches(register, value) {
			return nil
		}

		a.cswValue.set(register, value)
	}

	commands := a.writeDPCommand(DpSelect, apSelect(register))
	return append(commands, ApWrite(apWireRegister(register), value))
}

func (a *Adi) readAPCommand(register uint32) []Operation {
	commands := a.writeDPCommand(DpSelect, apSelect(register))
	return append(commands, ApRead(apWireRegister(register)))
}

// memory access through the MEM-AP: CSW, TAR, DRW

func laneShift(address uint32, size uint32) uint {
	switch size {
	case cswSize8:
		return uint(address&3) << 3
	case cswSize16:
		return uint(address&2) << 3
	default:
		return 0
	}
}

func laneMask(size uint32) uint32 {
	switch size {
	case cswSize8:
		return 0xff
	case cswSize16:
		return 0xffff
	default:
		return 0xffffffff
	}
}

// toLane places value in the byte lanes the bus uses for address
func toLane(address uint32, value uint32, size uint32) uint32 {
	return (value & laneMask(size)) << laneShift(address, size)
}

func fromLane(address uint32, value uint32, size uint32) uint32 {
	return (value >> laneShift(address, size)) & laneMask(size)
}

func (a *Adi) writeMemCommand(address uint32, value uint32, size uint32) []Operation {
	commands := a.writeAPCommand(ApCsw, cswValue|size)
	commands = append(commands, a.writeAPCommand(ApTar, address)...)
	return append(commands, a.writeAPCommand(ApDrw, toLane(address, value, size))...)
}

func (a *Adi) readMemCommand(address uint32, size uint32) []Operation {
	commands := a.writeAPCommand(ApCsw, cswValue|size)
	commands = append(commands, a.writeAPCommand(ApTar, address)...)
	return append(commands, a.readAPCommand(ApDrw)...)
}

func (a *Adi) writeMem32Command(address uint32, value uint32) []Operation {
	return a.writeMemCommand(address, value, cswSize32)
}

func (a *Adi) readMem32Command(address uint32) []Operation {
	return a.readMemCommand(address, cswSize32)
}
