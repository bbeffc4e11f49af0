// Package policy evaluates export requests against Open Policy Agent (OPA)
// policies before they are submitted.
//
// Each policy is a Rego module whose deny set holds violations:
//
//	package trendfire.policies.scale
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.export.scale <= 0
//	    violation := {
//	        "message": "scale must be positive",
//	        "severity": "error",
//	    }
//	}
//
// The input document is an Input: the export under evaluation plus a
// run-wide Context (project, asset root, maxPixels limit).
//
// # Built-in Policies
//
// The built-ins are embedded from builtin/*.rego:
//
//  1. export-scale - scale must be positive
//  2. export-max-pixels - maxPixels must be positive and within the limit
//  3. export-destination - assets under the asset root, Drive exports need a folder
//  4. export-region - a region with at least four vertices
//  5. export-description - safe task descriptions (warning only)
//
// Extra policies are loaded from .rego or .json files with
// Engine.LoadPolicies. A loaded policy replaces a built-in of the same name.
//
// # Severity Levels
//
//   - info, warning: reported, never block
//   - error, critical: the export is not allowed
package policy
