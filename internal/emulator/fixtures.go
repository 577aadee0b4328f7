package emulator

// DefaultCategories is a small excerpt of the categories the service offers.
func DefaultCategories() map[string][]Category {
	return map[string][]Category{
		"precursor": {
			{Name: "HMDD", Description: "Diseases (HMDD)"},
			{Name: "miRTarBase", Description: "Target genes (miRTarBase)"},
			{Name: "miRWalk_Diseases", Description: "Diseases (miRWalk)"},
		},
		"mirna": {
			{Name: "miRTarBase", Description: "Target genes (miRTarBase)"},
			{Name: "GO_Biological_process_from_miRWalk", Description: "GO Biological process (miRWalk)"},
			{Name: "Localization_RNALocate", Description: "Localization (RNALocate)"},
		},
	}
}

// DefaultMirbase maps a few ids from miRBase 16 to 22. hsa-miR-220a and
// hsa-miR-220b were merged, so the way back is ambiguous.
func DefaultMirbase() map[string]map[string][]string {
	return map[string]map[string][]string{
		"16>22": {
			"hsa-miR-199a-5p": {"hsa-miR-199a-5p"},
			"hsa-miR-29a":     {"hsa-miR-29a-3p"},
			"hsa-miR-21":      {"hsa-miR-21-5p"},
			"hsa-miR-220a":    {"hsa-miR-220"},
			"hsa-miR-220b":    {"hsa-miR-220"},
			"hsa-mir-550b-1":  {"hsa-mir-550b-1"},
		},
	}
}

// DefaultPrecursors maps mature miRNAs to their precursors.
func DefaultPrecursors() map[string][]string {
	return map[string][]string{
		"hsa-miR-199a-5p": {"hsa-mir-199a-1", "hsa-mir-199a-2"},
		"hsa-miR-21-5p":   {"hsa-mir-21"},
		"hsa-miR-29a-3p":  {"hsa-mir-29a"},
		"hsa-miR-550b-3p": {"hsa-mir-550b-1", "hsa-mir-550b-2"},
	}
}
