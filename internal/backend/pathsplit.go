package backend

import "path"

// quoteState is the state of the small state machine SplitPath runs
// over a path string to find the first unquoted ':' (spec.md §9 design
// note: "3-state quote-split state machine"). It exists so connection
// strings like ":http,url='https://example.com':path/to/dir" split on
// the right colon instead of the one inside the quoted URL.
type quoteState int

const (
	stateNormal quoteState = iota
	stateSingle
	stateDouble
)

// SplitPath splits an rclone-style "fs:remote" path into its filesystem
// and remote components, heuristically skipping colons inside single-
// or double-quoted spans. A path with no unquoted colon is treated as
// a local path and split into directory/basename instead.
//
//	SplitPath("single-file.ext")          -> ("./", "single-file.ext")
//	SplitPath("local/file.ext")           -> ("local/", "file.ext")
//	SplitPath("remote:file.ext")          -> ("remote:", "file.ext")
//	SplitPath(":http:sub/file.ext")       -> (":http:", "sub/file.ext")
func SplitPath(p string) (fs, remote string) {
	onTheFly := false
	if len(p) > 0 && p[0] == ':' {
		onTheFly = true
		p = p[1:]
	}

	idx := -1
	state := stateNormal
	for i := 0; i < len(p); i++ {
		c := p[i]
		switch state {
		case stateNormal:
			switch c {
			case '\'':
				state = stateSingle
			case '"':
				state = stateDouble
			case ':':
				idx = i
			}
		case stateSingle:
			if c == '\'' {
				state = stateNormal
			}
		case stateDouble:
			if c == '"' {
				state = stateNormal
			}
		}
		if idx >= 0 {
			break
		}
	}

	if idx < 0 {
		dir, base := path.Split(p)
		if dir == "" {
			dir = "./"
		}
		return dir, base
	}

	fs = p[:idx+1]
	remote = p[idx+1:]
	if onTheFly {
		fs = ":" + fs
	}
	return fs, remote
}
