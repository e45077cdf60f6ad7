package upgrade

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"go.goms.io/aio/lifecycle/pkg/opserr"
)

// ParseSyncMode accepts None or Full, case-insensitively. Empty means None.
func ParseSyncMode(s string) (SyncMode, error) {
	switch {
	case s == "", strings.EqualFold(s, string(SyncNone)):
		return SyncNone, nil
	case strings.EqualFold(s, string(SyncFull)):
		return SyncFull, nil
	}
	return "", opserr.New(opserr.KindConfig, "unknown sync mode %q; expected %s or %s", s, SyncNone, SyncFull)
}

// ParseOverride builds an override from command-line values. config entries are key=value; an
// empty list leaves the override config unset.
func ParseOverride(version, train string, config []string, syncMode string) (Override, error) {
	mode, err := ParseSyncMode(syncMode)
	if err != nil {
		return Override{}, err
	}
	o := Override{Version: version, Train: train, SyncMode: mode}
	if len(config) == 0 {
		return o, nil
	}
	o.Config = make(map[string]string, len(config))
	for _, entry := range config {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return Override{}, opserr.New(opserr.KindConfig, "invalid config entry %q; expected key=value", entry)
		}
		o.Config[key] = value
	}
	return o, nil
}

// Summary renders the plan as a table, one row per installed extension.
func (c *ClusterUpgradeState) Summary() string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EXTENSION\tNAME\tCURRENT\tDESIRED\tCHANGES")
	for _, s := range c.Ordered() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.Moniker, s.Extension.Name,
			versionTrain(s.CurrentVersion(), s.CurrentTrain()),
			versionTrain(s.Desired.Version, s.Desired.Train),
			changes(s))
	}
	_ = w.Flush()
	return b.String()
}

func versionTrain(version, train string) string {
	if train == "" {
		return version
	}
	return version + "/" + train
}

func changes(s *ExtensionUpgradeState) string {
	if !s.CanUpgrade() {
		return "-"
	}
	var parts []string
	if v := s.TargetVersion(); v != "" {
		parts = append(parts, "version="+v)
	}
	if t := s.TargetTrain(); t != "" {
		parts = append(parts, "train="+t)
	}
	if settings := s.ConfigurationSettings(); len(settings) > 0 {
		parts = append(parts, "config="+strings.Join(sortedKeys(settings), ","))
	}
	return strings.Join(parts, " ")
}
