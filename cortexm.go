// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// debug register semantics follow the Armv7-M architecture reference manual, chapter C1

package godap

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
)

type CoreRegister uint32 // DCRSR REGSEL value

const (
	R0      CoreRegister = 0
	R1      CoreRegister = 1
	R2      CoreRegister = 2
	R3      CoreRegister = 3
	R4      CoreRegister = 4
	R5      CoreRegister = 5
	R6      CoreRegister = 6
	R7      CoreRegister = 7
	R8      CoreRegister = 8
	R9      CoreRegister = 9
	R10     CoreRegister = 10
	R11     CoreRegister = 11
	R12     CoreRegister = 12
	SP      CoreRegister = 13
	LR      CoreRegister = 14
	PC      CoreRegister = 15
	XPSR    CoreRegister = 16
	MSP     CoreRegister = 17
	PSP     CoreRegister = 18
	CONTROL CoreRegister = 20 // CONTROL, FAULTMASK, BASEPRI and PRIMASK packed
)

var coreRegisterNames = map[CoreRegister]string{
	SP: "SP", LR: "LR", PC: "PC", XPSR: "xPSR", MSP: "MSP", PSP: "PSP", CONTROL: "CONTROL",
}

func (r CoreRegister) String() string {
	if name, ok := coreRegisterNames[r]; ok {
		return name
	}

	if r <= R12 {
		return fmt.Sprintf("R%d", uint32(r))
	}

	return fmt.Sprintf("REG%d", uint32(r))
}

// ParseCoreRegister accepts the names printed by CoreRegister.String, case sensitive.
func ParseCoreRegister(name string) (CoreRegister, error) {
	for r := R0; r <= CONTROL; r++ {
		if r.String() == name {
			return r, nil
		}
	}

	return 0, errors.NotFoundf("core register %q", name)
}

type CoreState uint8

const (
	CoreStateReset CoreState = iota
	CoreStateLockup
	CoreStateSleeping
	CoreStateDebug
	CoreStateRunning
)

func (s CoreState) String() string {
	switch s {
	case CoreStateReset:
		return "reset"
	case CoreStateLockup:
		return "lockup"
	case CoreStateSleeping:
		return "sleeping"
	case CoreStateDebug:
		return "debug"
	case CoreStateRunning:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// CortexM controls a Cortex-M core through the memory mapped debug
// registers. It offers every Adi operation as its own.
type CortexM struct {
	adi *Adi
	log *logrus.Entry
}

func NewCortexM(adi *Adi) *CortexM {
	return &CortexM{
		adi: adi,
		log: adi.log,
	}
}

func NewCortexMFromTransport(transport Transport, opts ...Option) *CortexM {
	return NewCortexM(NewAdiFromTransport(transport, opts...))
}

func (c *CortexM) Adi() *Adi {
	return c.adi
}

func (c *CortexM) Connect(ctx context.Context) error {
	return c.adi.Connect(ctx)
}

func (c *CortexM) Disconnect(ctx context.Context) error {
	return c.adi.Disconnect(ctx)
}

func (c *CortexM) Reconnect(ctx context.Context) error {
	return c.adi.Reconnect(ctx)
}

func (c *CortexM) Reset(ctx context.Context) (bool, error) {
	return c.adi.Reset(ctx)
}

func (c *CortexM) ReadDP(ctx context.Context, register uint8) (uint32, error) {
	return c.adi.ReadDP(ctx, register)
}

func (c *CortexM) WriteDP(ctx context.Context, register uint8, value uint32) error {
	return c.adi.WriteDP(ctx, register, value)
}

func (c *CortexM) ReadAP(ctx context.Context, register uint32) (uint32, error) {
	return c.adi.ReadAP(ctx, register)
}

func (c *CortexM) WriteAP(ctx context.Context, register uint32, value uint32) error {
	return c.adi.WriteAP(ctx, register, value)
}

func (c *CortexM) ReadMem8(ctx context.Context, address uint32) (uint8, error) {
	return c.adi.ReadMem8(ctx, address)
}

func (c *CortexM) ReadMem16(ctx context.Context, address uint32) (uint16, error) {
	return c.adi.ReadMem16(ctx, address)
}

func (c *CortexM) ReadMem32(ctx context.Context, address uint32) (uint32, error) {
	return c.adi.ReadMem32(ctx, address)
}

func (c *CortexM) WriteMem8(ctx context.Context, address uint32, value uint8) error {
	return c.adi.WriteMem8(ctx, address, value)
}

func (c *CortexM) WriteMem16(ctx context.Context, address uint32, value uint16) error {
	return c.adi.WriteMem16(ctx, address, value)
}

func (c *CortexM) WriteMem32(ctx context.Context, address uint32, value uint32) error {
	return c.adi.WriteMem32(ctx, address, value)
}

func (c *CortexM) ReadBlock(ctx context.Context, address uint32, count int) ([]uint32, error) {
	return c.adi.ReadBlock(ctx, address, count)
}

func (c *CortexM) WriteBlock(ctx context.Context, address uint32, values []uint32) error {
	return c.adi.WriteBlock(ctx, address, values)
}

func (c *CortexM) TransferSequence(ctx context.Context, batches ...[]Operation) ([]uint32, error) {
	return c.adi.TransferSequence(ctx, batches...)
}

// coreState classifies a DHCSR value, lockup first, then halt, then sleep
func coreState(dhcsr uint32) CoreState {
	switch {
	case dhcsr&dhcsrSLockup != 0:
		return CoreStateLockup
	case dhcsr&dhcsrSHalt != 0:
		return CoreStateDebug
	case dhcsr&dhcsrSSleep != 0:
		return CoreStateSleeping
	default:
		return CoreStateRunning
	}
}

// State reads DHCSR. A core whose reset flag stays set on a second read and
// which has not retired an instruction yet is reported as in reset.
func (c *CortexM) State(ctx context.Context) (CoreState, error) {
	dhcsr, err := c.adi.ReadMem32(ctx, regDhcsr)
	if err != nil {
		return CoreStateRunning, errors.Annotate(err, "read DHCSR")
	}

	state := coreState(dhcsr)

	if dhcsr&dhcsrSReset != 0 {
		dhcsr, err = c.adi.ReadMem32(ctx, regDhcsr)
		if err != nil {
			return CoreStateRunning, errors.Annotate(err, "read DHCSR")
		}

		if dhcsr&dhcsrSReset != 0 && dhcsr&dhcsrSRetire == 0 {
			return CoreStateReset, nil
		}
	}

	return state, nil
}

func (c *CortexM) IsHalted(ctx context.Context) (bool, error) {
	dhcsr, err := c.adi.ReadMem32(ctx, regDhcsr)
	if err != nil {
		return false, errors.Annotate(err, "read DHCSR")
	}

	return dhcsr&dhcsrSHalt != 0, nil
}

func (c *CortexM) isRunning(ctx context.Context) (bool, error) {
	halted, err := c.IsHalted(ctx)
	return !halted, err
}

// EnableDebug sets C_DEBUGEN without touching C_HALT.
func (c *CortexM) EnableDebug(ctx context.Context) error {
	return errors.Trace(c.adi.WriteMem32(ctx, regDhcsr, dhcsrDbgKey|dhcsrCDebugEn))
}

// Halt stops the core. With wait set it polls until the core reports halted,
// a zero timeout waits forever. Halting a halted core sends nothing.
func (c *CortexM) Halt(ctx context.Context, wait bool, timeout time.Duration) error {
	halted, err := c.IsHalted(ctx)
	if err != nil {
		return errors.Trace(err)
	}

	if halted {
		return nil
	}

	c.log.Debug("halting core")

	if err := c.adi.WriteMem32(ctx, regDhcsr, dhcsrDbgKey|dhcsrCDebugEn|dhcsrCHalt); err != nil {
		return errors.Trace(err)
	}

	if !wait {
		return nil
	}

	return errors.Trace(waitDelay(ctx, "halt", func() (bool, error) {
		return c.IsHalted(ctx)
	}, defaultPollInterval, timeout))
}

// Resume clears the debug fault status and lets a halted core run.
func (c *CortexM) Resume(ctx context.Context, wait bool, timeout time.Duration) error {
	halted, err := c.IsHalted(ctx)
	if err != nil {
		return errors.Trace(err)
	}

	if !halted {
		return nil
	}

	c.log.Debug("resuming core")

	_, err = c.adi.TransferSequence(ctx,
		c.adi.writeMem32Command(regDfsr, dfsrDwtTrap|dfsrBkpt|dfsrHalted),
		c.adi.writeMem32Command(regDhcsr, dhcsrDbgKey|dhcsrCDebugEn),
	)
	if err != nil {
		return errors.Trace(err)
	}

	if !wait {
		return nil
	}

	return errors.Trace(waitDelay(ctx, "resume", func() (bool, error) {
		return c.isRunning(ctx)
	}, defaultPollInterval, timeout))
}

func (c *CortexM) checkRegisterReady(register CoreRegister, dhcsr uint32) error {
	if dhcsr&dhcsrSRegRdy == 0 {
		return &RegisterNotReadyError{Register: register}
	}

	return nil
}

// ReadCoreRegister transfers register into DCRDR and reads it. The core must be halted.
func (c *CortexM) ReadCoreRegister(ctx context.Context, register CoreRegister) (uint32, error) {
	values, err := c.adi.TransferSequence(ctx,
		c.adi.writeMem32Command(regDcrsr, uint32(register)),
		c.adi.readMem32Command(regDhcsr),
	)
	if err != nil {
		return 0, errors.Annotatef(err, "select %s", register)
	}

	if err := c.checkRegisterReady(register, values[0]); err != nil {
		return 0, err
	}

	value, err := c.adi.ReadMem32(ctx, regDcrdr)
	return value, errors.Annotatef(err, "read %s", register)
}

func (c *CortexM) WriteCoreRegister(ctx context.Context, register CoreRegister, value uint32) error {
	values, err := c.adi.TransferSequence(ctx,
		c.adi.writeMem32Command(regDcrdr, value),
		c.adi.writeMem32Command(regDcrsr, uint32(register)|dcrsrRegWnR),
		c.adi.readMem32Command(regDhcsr),
	)
	if err != nil {
		return errors.Annotatef(err, "write %s", register)
	}

	return c.checkRegisterReady(register, values[0])
}

// ReadCoreRegisters reads registers one after the other, values are in the same order.
func (c *CortexM) ReadCoreRegisters(ctx context.Context, registers []CoreRegister) ([]uint32, error) {
	values := make([]uint32, 0, len(registers))

	for _, register := range registers {
		value, err := c.ReadCoreRegister(ctx, register)
		if err != nil {
			return nil, err
		}

		values = append(values, value)
	}

	return values, nil
}

func (c *CortexM) WriteCoreRegisters(ctx context.Context, registers []CoreRegister, values []uint32) error {
	if len(registers) != len(values) {
		return errors.NotValidf("%d registers with %d values", len(registers), len(values))
	}

	for i, register := range registers {
		if err := c.WriteCoreRegister(ctx, register, values[i]); err != nil {
			return err
		}
	}

	return nil
}

// Execute runs code at address until it hits the trailing breakpoint, LR
// is set to address+1. registers are loaded into R0 upwards.
func (c *CortexM) Execute(ctx context.Context, address uint32, code []uint32, sp uint32, pc uint32, registers ...uint32) error {
	return c.ExecuteWithLinkRegister(ctx, address, code, sp, pc, address+1, registers...)
}

// ExecuteWithLinkRegister is Execute with an explicit LR.
func (c *CortexM) ExecuteWithLinkRegister(ctx context.Context, address uint32, code []uint32, sp uint32, pc uint32,
	lr uint32, registers ...uint32) error {

	if len(registers) > generalRegisterCount {
		return errors.NotValidf("%d general registers (at most %d)", len(registers), generalRegisterCount)
	}

	if len(code) == 0 || code[len(code)-1] != bkptInstruction {
		code = append(append(make([]uint32, 0, len(code)+1), code...), bkptInstruction)
	}

	timeout := c.adi.proxy.Config().ExecuteTimeout

	c.log.Debugf("execute %d words at 0x%08x (pc 0x%08x, sp 0x%08x)", len(code), address, pc, sp)

	if err := c.Halt(ctx, true, timeout); err != nil {
		return errors.Annotate(err, "halt before execute")
	}

	staged := []CoreRegister{SP, PC, LR}
	values := []uint32{sp, pc, lr}

	for i, v := range registers {
		staged = append(staged, R0+CoreRegister(i))
		values = append(values, v)
	}

	if err := c.WriteCoreRegisters(ctx, staged, values); err != nil {
		return errors.Annotate(err, "stage registers")
	}

	if err := c.adi.WriteBlock(ctx, address, code); err != nil {
		return errors.Annotate(err, "load code")
	}

	if err := c.Resume(ctx, false, 0); err != nil {
		return errors.Annotate(err, "resume")
	}

	err := waitDelay(ctx, "execute", func() (bool, error) {
		return c.IsHalted(ctx)
	}, defaultPollInterval, timeout)

	if _, ok := errors.Cause(err).(*TimeoutError); ok {
		return &ExecutionTimeoutError{Address: address, Timeout: timeout}
	}

	return errors.Trace(err)
}

// ResetHalt resets the system through AIRCR and catches the core on the reset vector.
func (c *CortexM) ResetHalt(ctx context.Context) error {
	return c.systemReset(ctx, true)
}

// ResetRun resets the system through AIRCR and lets the core run.
func (c *CortexM) ResetRun(ctx context.Context) error {
	return c.systemReset(ctx, false)
}

func (c *CortexM) systemReset(ctx context.Context, halt bool) error {
	demcr, err := c.adi.ReadMem32(ctx, regDemcr)
	if err != nil {
		return errors.Annotate(err, "read DEMCR")
	}

	catch := demcr &^ demcrVcCoreReset
	if halt {
		catch |= demcrVcCoreReset
	}

	if err := c.adi.WriteMem32(ctx, regDemcr, catch); err != nil {
		return errors.Annotate(err, "write DEMCR")
	}

	c.log.Infof("system reset (halt %v)", halt)

	// the write response may be lost while the system resets
	if err := c.adi.WriteMem32(ctx, regAircr, aircrVectKey|aircrSysResetReq); err != nil {
		c.log.Debugf("AIRCR write: %v", err)
	}

	timeout := c.adi.proxy.Config().ExecuteTimeout

	if !halt {
		return errors.Trace(waitDelay(ctx, "reset", func() (bool, error) {
			state, err := c.State(ctx)
			return state != CoreStateReset, err
		}, defaultPollInterval, timeout))
	}

	if err := waitDelay(ctx, "reset halt", func() (bool, error) {
		return c.IsHalted(ctx)
	}, defaultPollInterval, timeout); err != nil {
		return errors.Trace(err)
	}

	return errors.Annotate(c.adi.WriteMem32(ctx, regDemcr, demcr&^demcrVcCoreReset), "restore DEMCR")
}
