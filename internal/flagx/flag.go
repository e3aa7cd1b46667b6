// Package flagx lets a binary parse the command-line flags it owns and
// ignore the rest, so client and server flags can share one os.Args.
package flagx

import (
	"flag"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Set is the declared list of flags one component reads.
type Set struct {
	name  string
	names []string
}

// NewSet declares the flags owned by the component called name. Names are
// given without dashes.
func NewSet(name string, names ...string) Set {
	n := slices.Clone(names)
	slices.Sort(n)
	return Set{name: name, names: slices.Compact(n)}
}

// Names returns the owned flag names, sorted.
func (s Set) Names() []string {
	return slices.Clone(s.names)
}

// owns reports the flag name carried by arg when s owns it. Both -x and --x
// spellings are accepted, with or without an inline =value.
func (s Set) owns(arg string) (name string, inline bool, ok bool) {
	if !strings.HasPrefix(arg, "-") {
		return "", false, false
	}
	name = strings.TrimPrefix(strings.TrimPrefix(arg, "-"), "-")
	name, _, inline = strings.Cut(name, "=")
	_, ok = slices.BinarySearch(s.names, name)
	return name, inline, ok
}

// Filter keeps owned flags and their values in their original order. A
// separate value is taken from the next argument unless it starts with a
// dash or isBool reports the flag takes none. isBool may be nil.
func (s Set) Filter(args []string, isBool func(name string) bool) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		name, inline, ok := s.owns(args[i])
		if !ok {
			continue
		}
		out = append(out, args[i])
		if inline || (isBool != nil && isBool(name)) {
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}

// FlagSet returns an empty flag set named after s that reports errors
// instead of exiting.
func (s Set) FlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet(s.name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// Parse filters args down to s and parses them into fs. Every flag defined
// on fs must be declared in s and the other way round.
func (s Set) Parse(fs *flag.FlagSet, args []string) error {
	var defined []string
	fs.VisitAll(func(f *flag.Flag) { defined = append(defined, f.Name) })
	slices.Sort(defined)
	if !slices.Equal(defined, s.names) {
		return fmt.Errorf("flagx: %s declares %v but defines %v", s.name, s.names, defined)
	}

	isBool := func(name string) bool {
		bf, ok := fs.Lookup(name).Value.(interface{ IsBoolFlag() bool })
		return ok && bf.IsBoolFlag()
	}
	if err := fs.Parse(s.Filter(args, isBool)); err != nil {
		return fmt.Errorf("flagx: %s: %w", s.name, err)
	}
	return nil
}

// ConfigFile is the set shared by both binaries for the JSON config path.
var ConfigFile = NewSet("config", "c", "config")

// ConfigPath returns the value of the last -c or -config in args, or "".
func ConfigPath(args []string) string {
	var path string
	fs := ConfigFile.FlagSet()
	fs.StringVar(&path, "config", "", "path to config file")
	fs.StringVar(&path, "c", "", "path to config file (short)")
	_ = ConfigFile.Parse(fs, args)
	return path
}
