package loaders

import (
	"encoding/binary"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/modelviewer/engine/renderer/metadata"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic uint32 = 0x07230203

type BinaryLoader struct{}

func (bl *BinaryLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading binary %s", path)
	}

	name := path
	if p, ok := params.(map[string]string); ok && p["name"] != "" {
		name = p["name"]
	}

	return &metadata.Resource{
		Name:     name,
		FullPath: path,
		DataSize: uint64(len(buf)),
		Data:     buf,
	}, nil
}

func (bl *BinaryLoader) Unload(*metadata.Resource) error {
	return nil
}

// Bytecode reinterprets little endian SPIR-V bytes as words.
func Bytecode(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, errors.Newf("SPIR-V size %d is not a multiple of 4", len(b))
	}
	byteCode := make([]uint32, len(b)/4)
	for i := range byteCode {
		byteCode[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	if byteCode[0] != spirvMagic {
		return nil, errors.Newf("bad SPIR-V magic 0x%08x", byteCode[0])
	}
	return byteCode, nil
}
