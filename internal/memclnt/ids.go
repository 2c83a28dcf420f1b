package memclnt

// ModuleName is the name memclnt registers its version under.
const ModuleName = "memclnt"

const (
	VersionMajor uint32 = 2
	VersionMinor uint32 = 1
	VersionPatch uint32 = 0
)

const (
	IDControlPing uint16 = iota + 1
	IDControlPingReply
	IDGetFirstMsgID
	IDGetFirstMsgIDReply
	IDShowVersion
	IDShowVersionReply
	IDAPIVersions
	IDAPIVersionsReply
)

// Message definition CRCs, bound with their names in the name+CRC index.
const (
	CRCControlPing        uint32 = 0x51077d14
	CRCControlPingReply   uint32 = 0xf6b0b8ca
	CRCGetFirstMsgID      uint32 = 0xebf79a66
	CRCGetFirstMsgIDReply uint32 = 0x7d337472
	CRCShowVersion        uint32 = 0x51077d14
	CRCShowVersionReply   uint32 = 0xc919bde1
	CRCAPIVersions        uint32 = 0x51077d14
	CRCAPIVersionsReply   uint32 = 0x5f0d99d6
)

// Retvals carried in replies.
const (
	RetvalOK             int32 = 0
	RetvalNoSuchModule   int32 = -1
	RetvalInvalidRequest int32 = -2
)
