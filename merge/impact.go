package merge

// AnalyzeImpact cross-references planned changes with local edits. A path
// the plan would create that exists untracked locally is an overwrite risk;
// a planned change to a path with tracked local edits is a conflict risk.
func AnalyzeImpact(files []FileChange, st *LocalStatus) ImpactOnLocal {
	impact := ImpactOnLocal{Entries: []ImpactOnLocalEntry{}, UntrackedOverwrite: []string{}}
	if st == nil {
		return impact
	}
	staged := toSet(st.Staged)
	unstaged := toSet(st.Unstaged)
	untracked := toSet(st.Untracked)

	check := func(path, planned string, creates bool) {
		inStaged, inUnstaged := staged[path], unstaged[path]
		switch {
		case untracked[path]:
			e := ImpactOnLocalEntry{Path: path, PlannedStatus: planned, Local: LocalUntracked}
			if creates {
				e.Risk = RiskOverwrite
				impact.UntrackedOverwrite = append(impact.UntrackedOverwrite, path)
			}
			impact.Entries = append(impact.Entries, e)
		case inStaged || inUnstaged:
			local := LocalStaged
			if inStaged && inUnstaged {
				local = LocalBoth
			} else if inUnstaged {
				local = LocalUnstaged
			}
			impact.Entries = append(impact.Entries, ImpactOnLocalEntry{Path: path, PlannedStatus: planned, Local: local, Risk: RiskConflict})
		}
	}

	for _, f := range files {
		check(f.Path, f.Status, f.Status != "D")
		if f.Status == "R" && f.RenameFrom != "" {
			// The rename source disappears.
			check(f.RenameFrom, f.Status, false)
		}
	}
	return impact
}

func toSet(paths []string) map[string]bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return set
}
