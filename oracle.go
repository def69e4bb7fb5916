package execpolicy

// Oracle answers whether a path is readable by the invoking user. It is the
// only point at which a Policy may observe the host, and a Policy without one
// validates file arguments syntactically.
type Oracle interface {
	IsReadable(path string) bool
}

// OracleFunc adapts a plain function to the Oracle interface.
type OracleFunc func(path string) bool

func (f OracleFunc) IsReadable(path string) bool {
	return f(path)
}

// FileSystemOracle checks readability against the real filesystem.
type FileSystemOracle struct{}

var _ Oracle = FileSystemOracle{}

// IsReadable implements Oracle.
func (FileSystemOracle) IsReadable(path string) bool {
	return isReadable(path)
}
