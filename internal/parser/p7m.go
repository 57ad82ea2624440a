package parser

import (
	"fmt"

	"github.com/hhrutter/pkcs7"
)

// ExtractXMLFromP7M strips the CAdES/PKCS#7 envelope a .p7m file
// wraps a FatturaPA XML document in and returns the inner XML bytes,
// without shelling out to openssl.
func ExtractXMLFromP7M(data []byte) ([]byte, error) {
	p7, err := pkcs7.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("extract xml from p7m: %w", err)
	}
	if len(p7.Content) == 0 {
		return nil, fmt.Errorf("extract xml from p7m: empty signed content")
	}
	return p7.Content, nil
}
