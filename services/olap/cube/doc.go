// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cube loads cube fixtures from YAML.
//
// A fixture declares hierarchies (the first is the measures hierarchy),
// calculated members with structured formulas, and facts. Loading produces a
// dim.StaticCatalog and a cellreader.MapReader ready for evaluation.
//
// Example:
//
//	name: Sales
//	hierarchies:
//	  - name: Measures
//	    members: [Sales, Cost]
//	  - name: Time
//	    all: All Time
//	    members: ["2023", "2024"]
//	calculated:
//	  - hierarchy: Measures
//	    name: Profit
//	    formula:
//	      op: "-"
//	      args:
//	        - ref: ["[Measures].[Sales]"]
//	        - ref: ["[Measures].[Cost]"]
//	facts:
//	  - at: ["[Measures].[Sales]", "[Time].[2023]"]
//	    value: 10
package cube
