package cmn

// Node tags: the closed set of entity classes the application layer
// understands. The graph engine itself (internal/pgraph) treats tags as
// opaque strings; this set is what the dispatcher and query handler are
// allowed to emit.
const (
	TagImage         = "image"
	TagVideo         = "video"
	TagRegion        = "region"
	TagDescriptorSet = "descriptor-set"
	TagDescriptor    = "descriptor"
	TagBlob          = "blob"
	TagKeyframe      = "keyframe"
	TagGeneric       = "generic"
)

// Top-level command names. Exactly one of these is the sole key of
// every command object in a batch.
const (
	CmdAddEntity          = "AddEntity"
	CmdAddConnection       = "AddConnection"
	CmdAddImage            = "AddImage"
	CmdUpdateImage         = "UpdateImage"
	CmdFindImage           = "FindImage"
	CmdAddVideo            = "AddVideo"
	CmdUpdateVideo         = "UpdateVideo"
	CmdFindVideo           = "FindVideo"
	CmdAddBoundingBox      = "AddBoundingBox"
	CmdUpdateBoundingBox   = "UpdateBoundingBox"
	CmdFindBoundingBox     = "FindBoundingBox"
	CmdAddDescriptorSet    = "AddDescriptorSet"
	CmdAddDescriptor       = "AddDescriptor"
	CmdFindDescriptor      = "FindDescriptor"
	CmdClassifyDescriptor  = "ClassifyDescriptor"
	CmdAddBlob             = "AddBlob"
	CmdUpdateBlob          = "UpdateBlob"
	CmdFindBlob            = "FindBlob"
)

// Edge tags the dispatcher emits for the implicit relationships between
// media entities.
const (
	EdgeTagImageLink      = "imageLink"
	EdgeTagDescriptorLink = "descriptorLink"
)

// Predicate operators accepted in a `constraints` clause.
const (
	OpEQ  = "=="
	OpNE  = "!="
	OpGT  = ">"
	OpGE  = ">="
	OpLT  = "<"
	OpLE  = "<="
)

// Result-shaping modes.
const (
	ResultList    = "list"
	ResultCount   = "count"
	ResultSum     = "sum"
	ResultAverage = "average"
	ResultNodeID  = "id"
)

// Link direction values.
const (
	DirIn  = "in"
	DirOut = "out"
	DirAny = "any"
)

// Media operation type names.
const (
	OpRead               = "read"
	OpWrite              = "write"
	OpResize             = "resize"
	OpCrop               = "crop"
	OpThreshold          = "threshold"
	OpFlip               = "flip"
	OpRotate             = "rotate"
	OpSyncRemoteOp       = "syncremoteOp"
	OpRemoteOp           = "remoteOp"
	OpUserOp             = "userOp"
)

// Media formats.
const (
	FormatJPG = "jpg"
	FormatPNG = "png"
	FormatTDB = "tdb"
	FormatBIN = "bin"
)
