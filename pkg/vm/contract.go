package vm

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fortiblox/hostvm/internal/types"
	"github.com/fortiblox/hostvm/pkg/result"
)

// ErrBadContract is returned for account code that is not a contract record.
var ErrBadContract = result.NewError(result.CodeSysError, "malformed contract record")

// Contract is the record stored as an account's code.
type Contract struct {
	Code            string        `json:"Code"`
	ContractName    string        `json:"ContractName"`
	ContractAddress types.Address `json:"ContractAddress"`
}

// Marshal encodes the record.
func (c *Contract) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// DecodeContract decodes a record stored as account code.
func DecodeContract(data []byte) (*Contract, error) {
	var c Contract
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadContract, err)
	}
	if c.ContractName == "" {
		return nil, fmt.Errorf("%w: missing name", ErrBadContract)
	}
	return &c, nil
}

// Contract header tags.
const (
	tagVersion = "#tvm_version"
	tagType    = "#tvm_type"
)

// ContractInfo is the metadata declared in a contract's header comments:
//
//	// #tvm_version 0.0.2
//	// #tvm_type lib
type ContractInfo struct {
	Version string
	Type    string
}

// ParseContractInfo reads the header tags from code. Missing tags are
// left empty; the last occurrence of a tag wins.
func ParseContractInfo(code string) ContractInfo {
	var info ContractInfo
	sc := bufio.NewScanner(strings.NewReader(code))
	sc.Buffer(make([]byte, 0, 4096), len(code)+1)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		line = strings.TrimSpace(strings.TrimPrefix(line, "//"))
		switch {
		case strings.HasPrefix(line, tagVersion):
			info.Version = strings.TrimSpace(strings.TrimPrefix(line, tagVersion))
		case strings.HasPrefix(line, tagType):
			info.Type = strings.TrimSpace(strings.TrimPrefix(line, tagType))
		}
	}
	return info
}
