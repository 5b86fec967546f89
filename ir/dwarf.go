package ir

// DWARF tag and encoding values, as defined by the DWARF specification.
// The backend's metadata nodes carry these numerically; comparing raw
// values keeps this file independent of any one binding's constant
// names.
const (
	dwTagArrayType       = 0x01
	dwTagClassType       = 0x02
	dwTagEnumerationType = 0x04
	dwTagMember          = 0x0d
	dwTagPointerType     = 0x0f
	dwTagReferenceType   = 0x10
	dwTagStructureType   = 0x13
	dwTagTypedef         = 0x16
	dwTagUnionType       = 0x17
	dwTagConstType       = 0x26
	dwTagVolatileType    = 0x35
	dwTagRestrictType    = 0x37
)

const (
	dwAteAddress      = 0x01
	dwAteBoolean      = 0x02
	dwAteFloat        = 0x04
	dwAteSigned       = 0x05
	dwAteSignedChar   = 0x06
	dwAteUnsigned     = 0x07
	dwAteUnsignedChar = 0x08
)
