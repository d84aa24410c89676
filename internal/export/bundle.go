package export

import (
	"bytes"
	"path"
	"strconv"

	"github.com/andresuchdata/cashflow-sdp/internal/domain"
)

// File is one rendered artifact.
type File struct {
	Name string
	Data []byte
}

// Bundle renders every artifact of result. Names are relative, e.g.
// "policy.csv".
func Bundle(result *domain.SolveResult) ([]File, error) {
	var policy, thresholds, table, book bytes.Buffer
	if err := WritePolicyCSV(&policy, result.Policy); err != nil {
		return nil, err
	}
	if err := WriteThresholdsCSV(&thresholds, result.Thresholds); err != nil {
		return nil, err
	}
	if err := WriteTableCSV(&table, result.Table); err != nil {
		return nil, err
	}
	if err := WriteWorkbook(&book, result); err != nil {
		return nil, err
	}
	return []File{
		{Name: "policy.csv", Data: policy.Bytes()},
		{Name: "thresholds.csv", Data: thresholds.Bytes()},
		{Name: "table.csv", Data: table.Bytes()},
		{Name: WorkbookName, Data: book.Bytes()},
	}, nil
}

// WorkbookName is the file name of the XLSX artifact inside a run folder.
const WorkbookName = "result.xlsx"

// RunFolder names the object folder of result: the run id once persisted,
// otherwise the parameter hash.
func RunFolder(result *domain.SolveResult) string {
	if result.RunID > 0 {
		return strconv.FormatInt(result.RunID, 10)
	}
	return "hash-" + result.ParamsHash
}

// Key joins folder and artifact name into an object key.
func Key(folder, name string) string {
	return path.Join(folder, name)
}
