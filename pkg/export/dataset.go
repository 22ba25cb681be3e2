package export

// Dataset is a header-ordered table handed to the exporters.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}
