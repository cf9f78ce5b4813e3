// Package asm is a small textual assembler that turns label:-annotated
// opcode source into a program.Image. It runs a two-pass assembly: label
// addresses are collected keyed to byte offsets in a first pass, then
// substituted in a second, with a comment-stripping convention (`//` to end
// of line) and an escape-sequence table for quoted string literals.
package asm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Sebastian764/VM/native"
	"github.com/Sebastian764/VM/program"
	vmpkg "github.com/Sebastian764/VM/vm"
)

var commentPattern = regexp.MustCompile(`//.*`)

// escapeSeqReplacements turns `\n`-style source escapes into real bytes
// inside string literals.
var escapeSeqReplacements = map[string]string{
	`\a`: "\a", `\b`: "\b", `\t`: "\t", `\n`: "\n",
	`\r`: "\r", `\f`: "\f", `\v`: "\v", `\"`: "\"", `\\`: "\\",
}

func unescape(s string) string {
	for orig, repl := range escapeSeqReplacements {
		s = strings.ReplaceAll(s, orig, repl)
	}
	return s
}

type funcSection struct {
	numArgs uint16
	numVars uint16
	lines   []string
}

// Assemble parses source lines into a program.Image. natives resolves
// `.natives` declarations by name to native function table slots; pass nil
// if the program declares no natives.
func Assemble(source []string, natives *native.Table) (*program.Image, error) {
	var (
		ints      []int32
		strBuf    []byte
		strOffset []int32 // strOffset[i] is the byte offset of the i-th declared string
		nativePool []program.Native
		funcs     []funcSection
	)

	section := ""
	var cur *funcSection

	for lineNo, raw := range source {
		line := commentPattern.ReplaceAllString(raw, "")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ".ints") {
			section, cur = "ints", nil
			continue
		}
		if strings.HasPrefix(line, ".strings") {
			section, cur = "strings", nil
			continue
		}
		if strings.HasPrefix(line, ".natives") {
			section, cur = "natives", nil
			continue
		}
		if strings.HasPrefix(line, ".func") {
			na, nv, err := parseFuncHeader(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
			}
			funcs = append(funcs, funcSection{numArgs: na, numVars: nv})
			cur = &funcs[len(funcs)-1]
			section = "func"
			continue
		}

		switch section {
		case "ints":
			v, err := parseIntLiteral(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
			}
			ints = append(ints, v)
		case "strings":
			s, err := parseStringLiteral(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
			}
			strOffset = append(strOffset, int32(len(strBuf)))
			strBuf = append(strBuf, []byte(s)...)
			strBuf = append(strBuf, 0)
		case "natives":
			n, err := parseNativeDecl(line, natives)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
			}
			nativePool = append(nativePool, n)
		case "func":
			cur.lines = append(cur.lines, line)
		default:
			return nil, fmt.Errorf("line %d: instruction outside of any .func section", lineNo+1)
		}
	}

	functions := make([]program.Function, len(funcs))
	for i, fs := range funcs {
		code, err := assembleFunc(fs, strOffset)
		if err != nil {
			return nil, fmt.Errorf("func %d: %w", i, err)
		}
		functions[i] = program.Function{Code: code, NumArgs: fs.numArgs, NumVars: fs.numVars}
	}

	return &program.Image{
		Functions: functions,
		Ints:      ints,
		Strings:   strBuf,
		Natives:   nativePool,
	}, nil
}

var funcHeaderPattern = regexp.MustCompile(`args=(\d+)\s+vars=(\d+)`)

func parseFuncHeader(line string) (uint16, uint16, error) {
	m := funcHeaderPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, fmt.Errorf("malformed .func header: %s", line)
	}
	na, _ := strconv.ParseUint(m[1], 10, 16)
	nv, _ := strconv.ParseUint(m[2], 10, 16)
	return uint16(na), uint16(nv), nil
}

func parseIntLiteral(s string) (int32, error) {
	base := 10
	if strings.HasPrefix(s, "0x") {
		base = 16
		s = s[2:]
	}
	v, err := strconv.ParseInt(s, base, 64)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

func parseStringLiteral(s string) (string, error) {
	if len(s) < 2 || !strings.HasPrefix(s, `"`) || !strings.HasSuffix(s, `"`) {
		return "", fmt.Errorf("expected quoted string literal: %s", s)
	}
	return unescape(s[1 : len(s)-1]), nil
}

func parseNativeDecl(line string, natives *native.Table) (program.Native, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return program.Native{}, fmt.Errorf("expected `<name> <num_args>`: %s", line)
	}
	if natives == nil {
		return program.Native{}, fmt.Errorf("no native table supplied, cannot resolve %q", fields[0])
	}
	idx, ok := natives.IndexOf(fields[0])
	if !ok {
		return program.Native{}, fmt.Errorf("unknown native function %q", fields[0])
	}
	n, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return program.Native{}, fmt.Errorf("bad arg count: %w", err)
	}
	return program.Native{NumArgs: uint16(n), FunctionTableIdx: uint16(idx)}, nil
}

// parsedLine is one non-label instruction line split into mnemonic and
// optional argument token.
type parsedLine struct {
	addr int // byte address within the function's code
	op   vmpkg.Opcode
	arg  string
}

// assembleFunc runs a two-pass assembly: first compute every instruction's
// byte address and every label's target address, then emit bytes, resolving
// labels to relative branch offsets as it goes.
func assembleFunc(fs funcSection, strOffset []int32) ([]byte, error) {
	labels := make(map[string]int)
	var parsed []parsedLine
	addr := 0

	for _, line := range fs.lines {
		if strings.HasSuffix(line, ":") {
			name := strings.TrimSuffix(line, ":")
			if strings.ContainsAny(name, " \t") {
				return nil, fmt.Errorf("invalid label: %s", line)
			}
			labels[name] = addr
			continue
		}

		mnemonic, arg := splitInstruction(line)
		op, ok := vmpkg.OpcodeByName(mnemonic)
		if !ok {
			return nil, fmt.Errorf("unknown mnemonic: %s", mnemonic)
		}
		parsed = append(parsed, parsedLine{addr: addr, op: op, arg: arg})
		addr += 1 + op.ImmediateBytes()
	}

	code := make([]byte, addr)
	for _, pl := range parsed {
		code[pl.addr] = byte(pl.op)
		n := pl.op.ImmediateBytes()
		if n == 0 {
			continue
		}
		imm := code[pl.addr+1 : pl.addr+1+n]
		if err := encodeImmediate(pl, imm, labels, strOffset); err != nil {
			return nil, err
		}
	}
	return code, nil
}

func splitInstruction(line string) (mnemonic, arg string) {
	fields := strings.SplitN(line, " ", 2)
	mnemonic = fields[0]
	if len(fields) > 1 {
		arg = strings.TrimSpace(fields[1])
	}
	return
}

func isBranchOpcode(op vmpkg.Opcode) bool {
	switch op {
	case vmpkg.IF_CMPEQ, vmpkg.IF_CMPNE, vmpkg.IF_ICMPLT, vmpkg.IF_ICMPGE,
		vmpkg.IF_ICMPGT, vmpkg.IF_ICMPLE, vmpkg.GOTO:
		return true
	default:
		return false
	}
}

func encodeImmediate(pl parsedLine, dst []byte, labels map[string]int, strOffset []int32) error {
	switch {
	case isBranchOpcode(pl.op):
		target, ok := labels[pl.arg]
		if !ok {
			return fmt.Errorf("unknown label %q", pl.arg)
		}
		offset := int16(target - pl.addr)
		dst[0] = byte(offset >> 8)
		dst[1] = byte(offset)
		return nil

	case pl.op == vmpkg.ALDC:
		idx, err := strconv.ParseUint(pl.arg, 10, 32)
		if err != nil {
			return fmt.Errorf("aldc expects a string index: %w", err)
		}
		if int(idx) >= len(strOffset) {
			return fmt.Errorf("string index %d out of range", idx)
		}
		off := uint16(strOffset[idx])
		dst[0] = byte(off >> 8)
		dst[1] = byte(off)
		return nil

	case len(dst) == 1:
		v, err := strconv.ParseInt(pl.arg, 0, 16)
		if err != nil {
			return fmt.Errorf("%s: %w", pl.op, err)
		}
		dst[0] = byte(v)
		return nil

	case len(dst) == 2:
		v, err := strconv.ParseUint(pl.arg, 0, 32)
		if err != nil {
			return fmt.Errorf("%s: %w", pl.op, err)
		}
		dst[0] = byte(v >> 8)
		dst[1] = byte(v)
		return nil
	}
	return fmt.Errorf("unhandled immediate width for %s", pl.op)
}
