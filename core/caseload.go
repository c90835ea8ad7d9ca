package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gridsignal/scenariogen/model"
)

// Internal JSON shapes for the on-disk case format.
type caseJSON struct {
	Name       string       `json:"name"`
	BaseMVA    float64      `json:"base_mva"`
	Buses      []busJSON    `json:"buses"`
	Generators []genJSON    `json:"generators"`
	Loads      []loadJSON   `json:"loads"`
	Shunts     []shuntJSON  `json:"shunts"` // optional section
	Branches   []branchJSON `json:"branches"`
}

type busJSON struct {
	ID   int     `json:"id"`
	VMin float64 `json:"vmin"`
	VMax float64 `json:"vmax"`
	Zone int     `json:"zone"`
	Area int     `json:"area"`
	Type int     `json:"bus_type"` // 1=PQ 2=PV 3=ref 4=isolated; 0 defaults to PQ
}

type genJSON struct {
	ID        int     `json:"id"`
	Bus       int     `json:"bus"`
	PMax      float64 `json:"pmax"`
	PMin      float64 `json:"pmin"`
	QMax      float64 `json:"qmax"`
	QMin      float64 `json:"qmin"`
	CostC2    float64 `json:"cost_c2"`
	CostC1    float64 `json:"cost_c1"`
	CostC0    float64 `json:"cost_c0"`
	VSetpoint float64 `json:"vg"`
	MBase     float64 `json:"mbase"`
	Status    *int    `json:"status"` // optional; defaults to in service
}

type loadJSON struct {
	ID  int     `json:"id"`
	Bus int     `json:"bus"`
	PD  float64 `json:"pd"`
	QD  float64 `json:"qd"`
}

type shuntJSON struct {
	ID  int     `json:"id"`
	Bus int     `json:"bus"`
	GS  float64 `json:"gs"`
	BS  float64 `json:"bs"`
}

type branchJSON struct {
	ID     int      `json:"id"`
	From   int      `json:"from"`
	To     int      `json:"to"`
	R      float64  `json:"br_r"`
	X      float64  `json:"br_x"`
	BFrom  float64  `json:"b_fr"`
	BTo    float64  `json:"b_to"`
	RateA  float64  `json:"rate_a"`
	RateB  float64  `json:"rate_b"`
	RateC  float64  `json:"rate_c"`
	Tap    *float64 `json:"tap"`   // optional; absent or 0 means a 1:1 line
	Shift  float64  `json:"shift"` // radians
	AngMin float64  `json:"angmin"`
	AngMax float64  `json:"angmax"`
	Status *int     `json:"br_status"` // optional; defaults to in service
}

// LoadCase reads a JSON grid case from r and builds a validated Network.
// Missing optional sections (shunts) are fine; structural problems such as
// duplicate IDs or dangling bus references fail the whole load.
func LoadCase(r io.Reader) (*model.Network, error) {
	var payload caseJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadCase: decode failed: %w", err)
	}
	return buildNetwork(&payload)
}

// LoadCaseFile opens path and loads the case, defaulting the network name to
// the file's base name when the case itself does not carry one.
func LoadCaseFile(path string) (*model.Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadCaseFile: %w", err)
	}
	defer f.Close()

	net, err := LoadCase(f)
	if err != nil {
		return nil, fmt.Errorf("LoadCaseFile %s: %w", path, err)
	}
	if net.Name == "" {
		net.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return net, nil
}

func buildNetwork(payload *caseJSON) (*model.Network, error) {
	net := model.NewNetwork(payload.Name, payload.BaseMVA)

	for _, jb := range payload.Buses {
		bt := model.BusType(jb.Type)
		if jb.Type == 0 {
			bt = model.BusPQ
		}
		if err := net.AddBus(&model.Bus{
			ID:   jb.ID,
			VMin: jb.VMin,
			VMax: jb.VMax,
			Zone: jb.Zone,
			Area: jb.Area,
			Type: bt,
		}); err != nil {
			return nil, fmt.Errorf("LoadCase: %w", err)
		}
	}

	for _, jg := range payload.Generators {
		if err := net.AddGenerator(&model.Generator{
			ID:        jg.ID,
			Bus:       jg.Bus,
			PMax:      jg.PMax,
			PMin:      jg.PMin,
			QMax:      jg.QMax,
			QMin:      jg.QMin,
			CostC2:    jg.CostC2,
			CostC1:    jg.CostC1,
			CostC0:    jg.CostC0,
			VSetpoint: jg.VSetpoint,
			MBase:     jg.MBase,
			InService: statusOn(jg.Status),
		}); err != nil {
			return nil, fmt.Errorf("LoadCase: %w", err)
		}
	}

	for _, jl := range payload.Loads {
		if err := net.AddLoad(&model.Load{
			ID:  jl.ID,
			Bus: jl.Bus,
			PD:  jl.PD,
			QD:  jl.QD,
		}); err != nil {
			return nil, fmt.Errorf("LoadCase: %w", err)
		}
	}

	for _, js := range payload.Shunts {
		if err := net.AddShunt(&model.Shunt{
			ID: js.ID, Bus: js.Bus, GS: js.GS, BS: js.BS,
		}); err != nil {
			return nil, fmt.Errorf("LoadCase: %w", err)
		}
	}

	for _, jb := range payload.Branches {
		tap := 1.0
		if jb.Tap != nil && *jb.Tap != 0 {
			tap = *jb.Tap
		}
		if err := net.AddBranch(&model.Branch{
			ID:        jb.ID,
			From:      jb.From,
			To:        jb.To,
			R:         jb.R,
			X:         jb.X,
			BFrom:     jb.BFrom,
			BTo:       jb.BTo,
			RateA:     jb.RateA,
			RateB:     jb.RateB,
			RateC:     jb.RateC,
			Tap:       tap,
			Shift:     jb.Shift,
			AngMin:    jb.AngMin,
			AngMax:    jb.AngMax,
			InService: statusOn(jb.Status),
		}); err != nil {
			return nil, fmt.Errorf("LoadCase: %w", err)
		}
	}

	if err := net.Validate(); err != nil {
		return nil, fmt.Errorf("LoadCase: %w", err)
	}
	return net, nil
}

func statusOn(s *int) bool {
	if s == nil {
		return true
	}
	return *s != 0
}
