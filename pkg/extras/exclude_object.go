// Exclude moves toward and inside objects
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package extras

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"klipper-go-transform/pkg/config"
	"klipper-go-transform/pkg/errors"
	"klipper-go-transform/pkg/gcode"
	"klipper-go-transform/pkg/log"
	"klipper-go-transform/pkg/printer"
	"klipper-go-transform/pkg/transform"
)

// printObject is one object announced by EXCLUDE_OBJECT_DEFINE.
type printObject struct {
	Name    string      `json:"name"`
	Center  []float64   `json:"center,omitempty"`
	Polygon [][]float64 `json:"polygon,omitempty"`
}

// ExcludeObject drops the moves of excluded objects. While a move is
// dropped the extruder offset between the G-code position and the
// physical position grows; it is applied to every later move.
type ExcludeObject struct {
	gm   *GCodeMove
	next transform.PositionTransform

	objects         []printObject
	excludedObjects []string
	currentObject   string

	// lastPosition is the logical position seen upstream
	lastPosition transform.Position
	// extruderOffset is logical E minus physical E
	extruderOffset float64
	skipping       bool

	logger *log.Logger
}

// NewExcludeObject builds the module for an [exclude_object] section.
func NewExcludeObject(p *printer.Printer, gm *GCodeMove, _ *config.Section) (*ExcludeObject, error) {
	eo := &ExcludeObject{
		gm:     gm,
		logger: log.GetLogger("exclude_object"),
	}
	p.RegisterEventHandler(printer.EventReady, func() error {
		next, err := gm.SetMoveTransform(eo)
		if err != nil {
			return err
		}
		eo.next = next
		eo.lastPosition = next.GetPosition()
		return nil
	})

	d := p.GCode()
	cmds := []struct {
		name string
		fn   gcode.Handler
		desc string
	}{
		{"EXCLUDE_OBJECT_START", eo.cmdStart, "Marks the beginning the current object as labeled"},
		{"EXCLUDE_OBJECT_END", eo.cmdEnd, "Marks the end the current object"},
		{"EXCLUDE_OBJECT", eo.cmdExclude, "Cancel moves inside a specified objects"},
		{"EXCLUDE_OBJECT_DEFINE", eo.cmdDefine, "Provides a summary of an object"},
	}
	for _, c := range cmds {
		if err := d.RegisterCommand(c.name, c.fn, c.desc); err != nil {
			return nil, err
		}
	}
	return eo, nil
}

// GetName implements config.Module.
func (eo *ExcludeObject) GetName() string { return "exclude_object" }

// TransformName names the participant in chain listings.
func (eo *ExcludeObject) TransformName() string { return "exclude_object" }

// InExcludedRegion reports whether the current object is excluded.
func (eo *ExcludeObject) InExcludedRegion() bool {
	if eo.currentObject == "" {
		return false
	}
	for _, name := range eo.excludedObjects {
		if name == eo.currentObject {
			return true
		}
	}
	return false
}

// GetPosition reports the logical position while moves are dropped and
// the physical position with the extruder offset applied otherwise.
func (eo *ExcludeObject) GetPosition() transform.Position {
	if eo.skipping {
		return eo.lastPosition
	}
	pos := eo.next.GetPosition()
	pos[transform.AxisE] += eo.extruderOffset
	eo.lastPosition = pos
	return pos
}

// Move forwards or drops a move depending on the current object.
func (eo *ExcludeObject) Move(newPos transform.Position, speed float64) error {
	if eo.InExcludedRegion() {
		if !eo.skipping {
			eo.logger.WithField("object", eo.currentObject).Debug("dropping moves")
		}
		eo.skipping = true
		eo.lastPosition = newPos
		return nil
	}
	if eo.skipping {
		// the extruder stayed where it was when dropping started
		physicalE := eo.next.GetPosition().E()
		eo.extruderOffset = eo.lastPosition.E() - physicalE
		eo.skipping = false
	}
	out := newPos
	out[transform.AxisE] -= eo.extruderOffset
	if err := eo.next.Move(out, speed); err != nil {
		return err
	}
	eo.lastPosition = newPos
	return nil
}

func (eo *ExcludeObject) findObject(name string) int {
	for i, obj := range eo.objects {
		if obj.Name == name {
			return i
		}
	}
	return -1
}

func (eo *ExcludeObject) defineObject(obj printObject) {
	if eo.findObject(obj.Name) >= 0 {
		return
	}
	eo.objects = append(eo.objects, obj)
	sort.Slice(eo.objects, func(i, j int) bool { return eo.objects[i].Name < eo.objects[j].Name })
}

func (eo *ExcludeObject) isExcluded(name string) bool {
	for _, n := range eo.excludedObjects {
		if n == name {
			return true
		}
	}
	return false
}

func (eo *ExcludeObject) excludeObject(cmd *gcode.Command, name string) {
	if eo.isExcluded(name) {
		return
	}
	cmd.RespondInfo(fmt.Sprintf("Excluding object %s", name))
	eo.excludedObjects = append(eo.excludedObjects, name)
	sort.Strings(eo.excludedObjects)
}

func (eo *ExcludeObject) unexcludeObject(cmd *gcode.Command, name string) {
	for i, n := range eo.excludedObjects {
		if n == name {
			cmd.RespondInfo(fmt.Sprintf("Unexcluding object %s", name))
			eo.excludedObjects = append(eo.excludedObjects[:i], eo.excludedObjects[i+1:]...)
			return
		}
	}
}

// reset forgets every object. The extruder offset is kept so the
// logical position stays continuous.
func (eo *ExcludeObject) reset() {
	eo.objects = nil
	eo.excludedObjects = nil
	eo.currentObject = ""
}

// GetStatus reports the known, excluded and current objects.
func (eo *ExcludeObject) GetStatus() map[string]any {
	objects := make([]map[string]any, 0, len(eo.objects))
	for _, obj := range eo.objects {
		m := map[string]any{"name": obj.Name}
		if obj.Center != nil {
			m["center"] = obj.Center
		}
		if obj.Polygon != nil {
			m["polygon"] = obj.Polygon
		}
		objects = append(objects, m)
	}
	var current any
	if eo.currentObject != "" {
		current = eo.currentObject
	}
	return map[string]any{
		"objects":          objects,
		"excluded_objects": append([]string{}, eo.excludedObjects...),
		"current_object":   current,
	}
}

func objectName(cmd *gcode.Command) string {
	return strings.ToUpper(strings.TrimSpace(cmd.Get("NAME", "")))
}

func (eo *ExcludeObject) cmdStart(cmd *gcode.Command) error {
	name := objectName(cmd)
	if name == "" {
		return errors.GCodeMissingParameterError(cmd.Name, "NAME")
	}
	if eo.findObject(name) < 0 {
		eo.defineObject(printObject{Name: name})
	}
	eo.currentObject = name
	return nil
}

func (eo *ExcludeObject) cmdEnd(cmd *gcode.Command) error {
	if eo.currentObject == "" {
		cmd.RespondInfo("EXCLUDE_OBJECT_END called, but no object is currently active")
		return nil
	}
	if name := objectName(cmd); name != "" && name != eo.currentObject {
		cmd.RespondInfo(fmt.Sprintf("EXCLUDE_OBJECT_END NAME=%s does not match the current object NAME=%s",
			name, eo.currentObject))
	}
	eo.currentObject = ""
	return nil
}

func (eo *ExcludeObject) cmdExclude(cmd *gcode.Command) error {
	name := objectName(cmd)
	if cmd.Get("RESET", "0") != "0" {
		if name != "" {
			eo.unexcludeObject(cmd, name)
		} else {
			eo.excludedObjects = nil
		}
		return nil
	}
	if name != "" {
		eo.excludeObject(cmd, name)
		return nil
	}
	if cmd.Get("CURRENT", "0") != "0" {
		if eo.currentObject == "" {
			return errors.ExcludeObjectError("There is no current object to cancel")
		}
		eo.excludeObject(cmd, eo.currentObject)
		return nil
	}
	cmd.RespondInfo(fmt.Sprintf("Excluded objects: %s", strings.Join(eo.excludedObjects, " ")))
	return nil
}

func (eo *ExcludeObject) cmdDefine(cmd *gcode.Command) error {
	if cmd.Get("RESET", "0") != "0" {
		eo.reset()
		return nil
	}
	name := objectName(cmd)
	if name == "" {
		names := make([]string, 0, len(eo.objects))
		for _, obj := range eo.objects {
			names = append(names, obj.Name)
		}
		cmd.RespondInfo(fmt.Sprintf("Known objects: %s", strings.Join(names, " ")))
		return nil
	}

	obj := printObject{Name: name}
	if raw := cmd.Get("CENTER", ""); raw != "" {
		if err := json.Unmarshal([]byte("["+raw+"]"), &obj.Center); err != nil {
			return errors.GCodeInvalidParameterError(cmd.Name, "CENTER", raw, "expected x,y")
		}
	}
	if raw := cmd.Get("POLYGON", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &obj.Polygon); err != nil {
			return errors.GCodeInvalidParameterError(cmd.Name, "POLYGON", raw, "expected [[x,y],...]")
		}
	}
	eo.defineObject(obj)
	return nil
}
