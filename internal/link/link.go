// Package link implements the CSX64 linker: it merges a set of named
// ObjectFiles into a single Executable, resolving globals/externals,
// deduplicating binary literals, and patching every hole.
package link

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/csx64/csx64-go/internal/csxerr"
	"github.com/csx64/csx64-go/internal/csxexe"
	"github.com/csx64/csx64-go/internal/expr"
	"github.com/csx64/csx64-go/internal/objfile"
)

const minSegmentAlign = 8
const finalImageAlign = 16

// Input is one named object file submitted to Link. name is typically the
// source path; it is what LinkError.Object and MissingSymbol diagnostics
// report.
type Input struct {
	Name   string
	Object *objfile.ObjectFile
}

type mergedObj struct {
	name string
	obj  *objfile.ObjectFile

	segBase      [3]uint64 // per-segment base offset inside the merged image
	bssBase      uint64
	holes        [3][]objfile.Hole // addresses already shifted to merged-segment-absolute
	literalRemap map[int]int
	resolved     expr.SymbolTable // this object's fully-resolved local scope
}

// Link merges objects into an Executable, starting from the object that
// declares an external named "_start" (renamed to entryPoint before
// merging, per the toolchain's convention that the first object is the
// process entry stub).
func Link(objects []Input, entryPoint string) (*csxexe.Executable, error) {
	return LinkWithLogger(objects, entryPoint, nil)
}

// LinkWithLogger is Link with an optional progress logger (Debugw-level:
// one entry per merged object, one on success).
func LinkWithLogger(objects []Input, entryPoint string, log *zap.SugaredLogger) (*csxexe.Executable, error) {
	if len(objects) == 0 {
		return nil, csxerr.NewLink(csxerr.EmptyResult, "", "no object files given to link")
	}

	byName := make(map[string]*objfile.ObjectFile, len(objects))
	var startName string
	for _, in := range objects {
		byName[in.Name] = in.Object
		if in.Object.Externs["_start"] {
			if startName == "" {
				startName = in.Name
			}
		}
	}
	if startName == "" {
		startName = objects[0].Name
	}

	startObj := byName[startName]
	if startObj.Externs["_start"] {
		delete(startObj.Externs, "_start")
		startObj.Externs[entryPoint] = true
		startObj.Dirty = true
	}

	// Step 1: global symbol table.
	owner := make(map[string]string, 64)
	for _, in := range objects {
		for g := range in.Object.Globals {
			if prev, dup := owner[g]; dup {
				return nil, csxerr.NewLink(csxerr.LinkSymbolRedefinition, in.Name,
					"global symbol %q already defined in %q", g, prev)
			}
			owner[g] = in.Name
		}
	}

	// Steps 2-4: breadth-first closure over externals, starting at the
	// entry object, merging segment bytes/holes/literals as each object is
	// popped.
	merged := map[string]*mergedObj{}
	queue := []string{startName}
	queuedOrIncluded := map[string]bool{startName: true}

	var text, rodata, data []byte
	var bssLen uint64
	var literals objfile.BinaryLiteralCollection

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		obj, found := byName[name]
		if !found {
			return nil, csxerr.NewLink(csxerr.MissingSymbol, name, "referenced object %q was not supplied to the linker", name)
		}
		if obj.Dirty && name != startName {
			return nil, csxerr.NewLink(csxerr.LinkFormatError, name, "object file is dirty and cannot be linked")
		}
		obj.Dirty = true

		mo := &mergedObj{name: name, obj: obj}

		text = padTo(text, int(obj.Align[objfile.Text]))
		mo.segBase[objfile.Text] = uint64(len(text))
		text = append(text, obj.Segments[objfile.Text]...)

		rodata = padTo(rodata, int(obj.Align[objfile.Rodata]))
		mo.segBase[objfile.Rodata] = uint64(len(rodata))
		rodata = append(rodata, obj.Segments[objfile.Rodata]...)

		data = padTo(data, int(obj.Align[objfile.Data]))
		mo.segBase[objfile.Data] = uint64(len(data))
		data = append(data, obj.Segments[objfile.Data]...)

		bssAlign := uint64(obj.Align[3])
		if bssAlign == 0 {
			bssAlign = 1
		}
		if rem := bssLen % bssAlign; rem != 0 {
			bssLen += bssAlign - rem
		}
		mo.bssBase = bssLen
		bssLen += obj.BssLen

		for s := objfile.Text; s <= objfile.Data; s++ {
			shifted := make([]objfile.Hole, len(obj.Holes[s]))
			for i, h := range obj.Holes[s] {
				h.Address += mo.segBase[s]
				shifted[i] = h
			}
			mo.holes[s] = shifted
		}

		mo.literalRemap = literals.Merge(&obj.Literals)

		merged[name] = mo
		if log != nil {
			log.Debugw("merged object", "name", name,
				"textBase", mo.segBase[objfile.Text], "rodataBase", mo.segBase[objfile.Rodata],
				"dataBase", mo.segBase[objfile.Data], "bssBase", mo.bssBase)
		}

		for ext := range obj.Externs {
			defOwner, found := owner[ext]
			if !found {
				return nil, csxerr.NewLink(csxerr.MissingSymbol, name, "undefined reference to %q", ext)
			}
			if !queuedOrIncluded[defOwner] {
				queuedOrIncluded[defOwner] = true
				queue = append(queue, defOwner)
			}
		}
	}

	// Step 5: fold the merged literal collection's top-levels into rodata,
	// recording each top-level's byte offset for __bin_lit_<hex> symbols.
	topLevelOffset := make([]uint64, len(literals.TopLevel))
	for i, top := range literals.TopLevel {
		topLevelOffset[i] = uint64(len(rodata))
		rodata = append(rodata, top...)
	}

	// Step 6: inter-segment padding and final 16-byte image alignment.
	text = padTo(text, minSegmentAlign)
	rodata = padTo(rodata, minSegmentAlign)
	total := len(text) + len(rodata) + len(data)
	if rem := total % finalImageAlign; rem != 0 {
		data = append(data, make([]byte, finalImageAlign-rem)...)
	}

	textOrigin := uint64(0)
	rodataOrigin := uint64(len(text))
	dataOrigin := uint64(len(text) + len(rodata))
	heapStart := uint64(len(text) + len(rodata) + len(data))

	// Step 7-8: per-object local scope (segment macros, heap symbol,
	// literal symbols, and pulled-in extern values), each evaluated
	// strictly from that object's own symbols.
	for _, mo := range merged {
		scope := expr.SymbolTable{}
		for name, e := range mo.obj.Symbols {
			scope[name] = e
		}
		scope["#T"] = expr.NewInt(textOrigin)
		scope["#R"] = expr.NewInt(rodataOrigin)
		scope["#D"] = expr.NewInt(dataOrigin)
		scope["#B"] = expr.NewInt(heapStart)
		scope["#t"] = expr.NewInt(textOrigin + mo.segBase[objfile.Text])
		scope["#r"] = expr.NewInt(rodataOrigin + mo.segBase[objfile.Rodata])
		scope["#d"] = expr.NewInt(dataOrigin + mo.segBase[objfile.Data])
		scope["#b"] = expr.NewInt(heapStart + mo.bssBase)
		scope["__heap__"] = expr.NewInt(heapStart)

		for localIdx, globalIdx := range mo.literalRemap {
			ref := literals.Refs[globalIdx]
			addr := rodataOrigin + topLevelOffset[ref.TopLevelIndex] + uint64(ref.Start)
			scope[fmt.Sprintf("__bin_lit_%x", localIdx)] = expr.NewInt(addr)
		}

		for name, e := range scope {
			if kind, msg := e.Evaluate(scope); kind == expr.Invalid {
				return nil, csxerr.NewLink(csxerr.LinkFormatError, mo.name, "symbol %q: %s", name, msg)
			}
		}

		mo.resolved = scope
	}

	for _, mo := range merged {
		for ext := range mo.obj.Externs {
			defOwner := merged[owner[ext]]
			val, found := defOwner.resolved[ext]
			if !found {
				return nil, csxerr.NewLink(csxerr.MissingSymbol, mo.name, "undefined reference to %q", ext)
			}
			if !val.IsEvaluated() {
				return nil, csxerr.NewLink(csxerr.MissingSymbol, mo.name, "symbol %q could not be resolved in defining object %q", ext, defOwner.name)
			}
			v, floating := val.Value()
			if floating {
				mo.resolved[ext] = expr.NewFloat(val.Float())
			} else {
				mo.resolved[ext] = expr.NewInt(v)
			}
		}
	}

	// Step 9: patch every hole.
	segBytes := [3][]byte{text, rodata, data}
	for _, mo := range merged {
		for s := objfile.Text; s <= objfile.Data; s++ {
			for i := range mo.holes[s] {
				h := &mo.holes[s][i]
				ok, msg := h.Patch(segBytes[s], mo.resolved)
				if !ok {
					if msg != "" {
						return nil, csxerr.NewLink(csxerr.LinkFormatError, mo.name, "line %d: %s", h.Line, msg)
					}
					return nil, csxerr.NewLink(csxerr.MissingSymbol, mo.name, "line %d: unresolved hole", h.Line)
				}
			}
		}
	}

	// Step 10.
	if log != nil {
		log.Debugw("link succeeded", "objects", len(objects),
			"textBytes", len(text), "rodataBytes", len(rodata), "dataBytes", len(data), "bssBytes", bssLen)
	}
	return csxexe.New(segBytes[objfile.Text], segBytes[objfile.Rodata], segBytes[objfile.Data], bssLen), nil
}

func padTo(seg []byte, align int) []byte {
	if align <= 1 {
		return seg
	}
	if rem := len(seg) % align; rem != 0 {
		seg = append(seg, make([]byte, align-rem)...)
	}
	return seg
}
