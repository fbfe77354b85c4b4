// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// register layouts follow the Arm Debug Interface v5 and Armv7-M
// architecture reference manuals, command numbers the CMSIS-DAP
// and DAPLink firmware documentation

package godap

import "fmt"

type Command uint8 // probe command opcodes

// CMSIS-DAP commands
const (
	CmdInfo              Command = 0x00
	CmdHostStatus        Command = 0x01
	CmdConnect           Command = 0x02
	CmdDisconnect        Command = 0x03
	CmdTransferConfigure Command = 0x04
	CmdTransfer          Command = 0x05
	CmdTransferBlock     Command = 0x06
	CmdTransferAbort     Command = 0x07
	CmdWriteAbort        Command = 0x08
	CmdDelay             Command = 0x09
	CmdResetTarget       Command = 0x0a
	CmdSwjPins           Command = 0x10
	CmdSwjClock          Command = 0x11
	CmdSwjSequence       Command = 0x12
	CmdSwdConfigure      Command = 0x13
	CmdJtagSequence      Command = 0x14
	CmdJtagConfigure     Command = 0x15
	CmdJtagIdCode        Command = 0x16
	CmdSwoTransport      Command = 0x17
	CmdSwoMode           Command = 0x18
	CmdSwoBaudrate       Command = 0x19
	CmdSwoControl        Command = 0x1a
	CmdSwoStatus         Command = 0x1b
	CmdSwoData           Command = 0x1c
	CmdSwdSequence       Command = 0x1d
)

// DAPLink vendor commands
const (
	CmdDapLinkReadSettings  Command = 0x81
	CmdDapLinkWriteSettings Command = 0x82
	CmdDapLinkSerialRead    Command = 0x83
	CmdDapLinkSerialWrite   Command = 0x84
	CmdDapLinkReset         Command = 0x89
	CmdDapLinkStreamOpen    Command = 0x8a
	CmdDapLinkStreamClose   Command = 0x8b
	CmdDapLinkStreamWrite   Command = 0x8c
)

var commandNames = map[Command]string{
	CmdInfo:                 "DAP_Info",
	CmdHostStatus:           "DAP_HostStatus",
	CmdConnect:              "DAP_Connect",
	CmdDisconnect:           "DAP_Disconnect",
	CmdTransferConfigure:    "DAP_TransferConfigure",
	CmdTransfer:             "DAP_Transfer",
	CmdTransferBlock:        "DAP_TransferBlock",
	CmdTransferAbort:        "DAP_TransferAbort",
	CmdWriteAbort:           "DAP_WriteABORT",
	CmdDelay:                "DAP_Delay",
	CmdResetTarget:          "DAP_ResetTarget",
	CmdSwjPins:              "DAP_SWJ_Pins",
	CmdSwjClock:             "DAP_SWJ_Clock",
	CmdSwjSequence:          "DAP_SWJ_Sequence",
	CmdSwdConfigure:         "DAP_SWD_Configure",
	CmdJtagSequence:         "DAP_JTAG_Sequence",
	CmdJtagConfigure:        "DAP_JTAG_Configure",
	CmdJtagIdCode:           "DAP_JTAG_IDCODE",
	CmdSwoTransport:         "DAP_SWO_Transport",
	CmdSwoMode:              "DAP_SWO_Mode",
	CmdSwoBaudrate:          "DAP_SWO_Baudrate",
	CmdSwoControl:           "DAP_SWO_Control",
	CmdSwoStatus:            "DAP_SWO_Status",
	CmdSwoData:              "DAP_SWO_Data",
	CmdSwdSequence:          "DAP_SWD_Sequence",
	CmdDapLinkReadSettings:  "DAPLink_ReadSettings",
	CmdDapLinkWriteSettings: "DAPLink_WriteSettings",
	CmdDapLinkSerialRead:    "DAPLink_SerialRead",
	CmdDapLinkSerialWrite:   "DAPLink_SerialWrite",
	CmdDapLinkReset:         "DAPLink_Reset",
	CmdDapLinkStreamOpen:    "DAPLink_StreamOpen",
	CmdDapLinkStreamClose:   "DAPLink_StreamClose",
	CmdDapLinkStreamWrite:   "DAPLink_StreamWrite",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}

	return fmt.Sprintf("0x%02x", uint8(c))
}

// hasStatus reports whether the second byte of a response to c is a DAP status code
func (c Command) hasStatus() bool {
	switch c {
	case CmdHostStatus, CmdDisconnect, CmdWriteAbort, CmdDelay, CmdResetTarget,
		CmdSwjClock, CmdSwjSequence, CmdSwdConfigure, CmdSwdSequence,
		CmdSwoTransport, CmdSwoMode, CmdSwoControl,
		CmdJtagConfigure, CmdJtagIdCode, CmdTransferConfigure:
		return true
	default:
		return false
	}
}

const (
	dapStatusOk    = 0x00
	dapStatusError = 0xff

	dapResetSequence = 0x01 // device specific reset sequence implemented
)

// packet layout
const (
	transferHeaderSize    = 2 // dap index, transfer count
	transferOperationSize = 5 // request byte, 32 bit value
	blockHeaderSize       = 4 // dap index, 16 bit transfer count, request byte
	opcodeSize            = 1
)

// protocol selection bit patterns (sent LSB first)
const (
	swdSelectSequence  uint16 = 0xe79e
	jtagSelectSequence uint16 = 0xe73c
)

var lineResetSequence = []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// debug port registers
const (
	DpIdr      uint8 = 0x00 // read
	DpAbort    uint8 = 0x00 // write
	DpCtrlStat uint8 = 0x04
	DpSelect   uint8 = 0x08
	DpRdBuff   uint8 = 0x0c
)

// DP ABORT bits
const (
	abortDapAbort   = 1 << 0
	abortStkCmpClr  = 1 << 1
	abortStkErrClr  = 1 << 2
	abortWdErrClr   = 1 << 3
	abortOrunErrClr = 1 << 4

	abortClearAll = abortStkCmpClr | abortStkErrClr | abortWdErrClr | abortOrunErrClr
)

// DP CTRL/STAT bits
const (
	ctrlStatCDbgPwrUpReq = 1 << 28
	ctrlStatCDbgPwrUpAck = 1 << 29
	ctrlStatCSysPwrUpReq = 1 << 30
	ctrlStatCSysPwrUpAck = 1 << 31
)

// access port registers, bits 31:24 select the AP, bits 7:4 the register bank
const (
	ApCsw  uint32 = 0x00
	ApTar  uint32 = 0x04
	ApDrw  uint32 = 0x0c
	ApBd0  uint32 = 0x10
	ApBd1  uint32 = 0x14
	ApBd2  uint32 = 0x18
	ApBd3  uint32 = 0x1c
	ApCfg  uint32 = 0xf4
	ApBase uint32 = 0xf8
	ApIdr  uint32 = 0xfc

	apSelMask     uint32 = 0xff000000
	apBankSelMask uint32 = 0x000000f0
	apRegMask     uint32 = 0x0000000c
	apRegOffset   uint32 = 0x000000ff
)

// MEM-AP CSW
const (
	cswSize8  uint32 = 0x00
	cswSize16 uint32 = 0x01
	cswSize32 uint32 = 0x02

	// debug software access, privileged data access, single auto increment, device enabled
	cswValue uint32 = 0x23000050

	tarAutoIncrementRange = 0x400
)

// Cortex-M system control and debug registers
const (
	regCpuId uint32 = 0xe000ed00
	regAircr uint32 = 0xe000ed0c
	regDfsr  uint32 = 0xe000ed30
	regDhcsr uint32 = 0xe000edf0
	regDcrsr uint32 = 0xe000edf4
	regDcrdr uint32 = 0xe000edf8
	regDemcr uint32 = 0xe000edfc
	regPid0  uint32 = 0xe000efe0
)

// DHCSR bits
const (
	dhcsrDbgKey   uint32 = 0xa05f0000
	dhcsrCDebugEn uint32 = 1 << 0
	dhcsrCHalt    uint32 = 1 << 1
	dhcsrCStep    uint32 = 1 << 2
	dhcsrCMaskInt uint32 = 1 << 3
	dhcsrSRegRdy  uint32 = 1 << 16
	dhcsrSHalt    uint32 = 1 << 17
	dhcsrSSleep   uint32 = 1 << 18
	dhcsrSLockup  uint32 = 1 << 19
	dhcsrSRetire  uint32 = 1 << 24
	dhcsrSReset   uint32 = 1 << 25
)

// DCRSR, DFSR, AIRCR and DEMCR bits
const (
	dcrsrRegWnR uint32 = 1 << 16

	dfsrHalted  uint32 = 1 << 0
	dfsrBkpt    uint32 = 1 << 1
	dfsrDwtTrap uint32 = 1 << 2
	dfsrVCatch  uint32 = 1 << 3
	dfsrExtern  uint32 = 1 << 4

	aircrVectKey     uint32 = 0x05fa0000
	aircrSysResetReq uint32 = 1 << 2

	demcrVcCoreReset uint32 = 1 << 0
)

const (
	bkptInstruction      uint32 = 0xbe2a
	generalRegisterCount        = 12
)
