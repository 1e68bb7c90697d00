package catalog

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/calyxlabs/calyx/internal/model"
)

// fileCatalog is the on-disk TOML shape. Cooldowns are expressed in
// milliseconds; limit windows are named strings.
//
//	[tiers.plus]
//	display_name = "Plus"
//	max_stage = "close"
//	[tiers.plus.cooldowns]
//	message = 2000
//	[[tiers.plus.limits.message]]
//	window = "daily"
//	ceiling = 100
type fileCatalog struct {
	Tiers map[string]fileTier `toml:"tiers"`
}

type fileTier struct {
	DisplayName string                 `toml:"display_name"`
	MaxStage    string                 `toml:"max_stage"`
	Cooldowns   map[string]int64       `toml:"cooldowns"`
	Limits      map[string][]fileLimit `toml:"limits"`
}

type fileLimit struct {
	Window  string `toml:"window"`
	Ceiling int64  `toml:"ceiling"`
}

// LoadFile reads a full catalog from a TOML file. The file replaces the
// compiled-in defaults entirely; partial files are rejected so a truncated
// deploy cannot silently drop a tier's ceilings.
func LoadFile(path string) (*Catalog, error) {
	var fc fileCatalog
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return fromFile(&fc)
}

func fromFile(fc *fileCatalog) (*Catalog, error) {
	tiers := make(map[model.Tier]TierSpec, len(fc.Tiers))
	for name, ft := range fc.Tiers {
		tier := model.Tier(name)
		if !tier.IsValid() {
			return nil, fmt.Errorf("unknown tier %q", name)
		}

		stage := model.Stage(ft.MaxStage)
		if !stage.IsValid() {
			return nil, fmt.Errorf("tier %s: unknown max_stage %q", name, ft.MaxStage)
		}

		limits := make(map[model.ResourceKind][]WindowLimit, len(ft.Limits))
		for kindName, fls := range ft.Limits {
			kind := model.ResourceKind(kindName)
			if !kind.IsValid() {
				return nil, fmt.Errorf("tier %s: unknown resource kind %q", name, kindName)
			}
			wls := make([]WindowLimit, 0, len(fls))
			for _, fl := range fls {
				w := model.Window(fl.Window)
				if !w.IsValid() {
					return nil, fmt.Errorf("tier %s: %s: unknown window %q", name, kindName, fl.Window)
				}
				if fl.Ceiling < model.Unlimited {
					return nil, fmt.Errorf("tier %s: %s: invalid ceiling %d", name, kindName, fl.Ceiling)
				}
				wls = append(wls, WindowLimit{Window: w, Ceiling: fl.Ceiling})
			}
			limits[kind] = wls
		}

		cooldowns := make(map[string]time.Duration, len(ft.Cooldowns))
		for action, ms := range ft.Cooldowns {
			if ms < 0 {
				return nil, fmt.Errorf("tier %s: cooldown %s: negative duration", name, action)
			}
			cooldowns[action] = time.Duration(ms) * time.Millisecond
		}

		tiers[tier] = TierSpec{
			DisplayName: ft.DisplayName,
			MaxStage:    stage,
			Limits:      limits,
			Cooldowns:   cooldowns,
		}
	}

	for _, required := range []model.Tier{model.TierFree, model.TierPlus, model.TierUltra} {
		if _, ok := tiers[required]; !ok {
			return nil, fmt.Errorf("catalog missing tier %q", required)
		}
	}

	return &Catalog{tiers: tiers}, nil
}
