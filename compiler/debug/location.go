package debug

import (
	"github.com/smaillet-ms/llilum/compiler/annot"
	"github.com/smaillet-ms/llilum/compiler/ir"
)

// LocationFor reconstructs the location of code with innermost source
// location di, inlined through path into the function outer.
//
// Without a path the location is di in outer. A squashed path has lost its
// ancestry, so the result is the unchained location of outer itself.
// Otherwise the call sites of path and di form a chain whose outermost
// element is in outer and whose innermost is returned.
func LocationFor(b *Builder, path *annot.InliningPath, outer *ir.Method, di *ir.DebugInfo) (*Location, error) {
	scope := b.SubprogramFor(outer)

	if path == nil {
		return b.Location(di, scope, nil), nil
	}

	if path.Squashed() {
		return b.Location(outer.Debug, scope, nil), nil
	}

	locs := append(append([]*ir.DebugInfo{}, path.DebugInfoPath()...), di)

	scopes := make([]Scope, 0, len(locs))
	scopes = append(scopes, scope)

	for _, m := range path.Path() {
		scopes = append(scopes, b.SubprogramFor(m))
	}

	if len(locs) != len(scopes) {
		return nil, ir.NewFault(ir.AssertionFailed, "inlining path %v: %d locations for %d scopes", path, len(locs), len(scopes))
	}

	var l *Location

	for i, d := range locs {
		l = b.Location(d, scopes[i], l)
	}

	if sp := SubprogramOf(l.Outermost().Scope); sp != scope {
		return nil, ir.NewFault(ir.AssertionFailed, "inlining path %v: outermost scope %v, want %v", path, sp, scope.ScopeName())
	}

	return l, nil
}
