package meta

// FlagType represents a single-character flag identifier.
type FlagType byte

// Protocol delimiters
const (
	// CRLF is the line terminator for the memcached protocol
	CRLF = "\r\n"

	// Space separates command tokens
	Space = ' '
)

// Command codes (2 characters)
//
// The builder accepts any command token; these are the ones the meta
// protocol defines.
const (
	// CmdGet retrieves item data and metadata.
	// Wire format: mg <key> <flags>*\r\n
	CmdGet = "mg"

	// CmdSet stores data.
	// Wire format: ms <key> <size> <flags>*\r\n<data>\r\n
	CmdSet = "ms"

	// CmdDelete deletes or invalidates items.
	// Wire format: md <key> <flags>*\r\n
	CmdDelete = "md"

	// CmdArithmetic increments or decrements a counter.
	// Wire format: ma <key> <flags>*\r\n
	CmdArithmetic = "ma"

	// CmdNoOp returns a static MN response, used to terminate quiet pipelines.
	// Wire format: mn\r\n
	CmdNoOp = "mn"
)

// Response status tags (2 characters)
const (
	// TagValue: value follows, "VA <size> <flags>*"
	TagValue = "VA"

	// TagHeader: success without value, "HD <flags>*"
	TagHeader = "HD"

	// TagOK is the legacy success tag, treated like HD
	TagOK = "OK"

	// TagNotStored: item was not stored (add on existing key, etc.)
	TagNotStored = "NS"

	// TagExists: CAS mismatch
	TagExists = "EX"

	// TagEnd: miss on mg
	TagEnd = "EN"

	// TagNotFound: miss on md/ma/ms append
	TagNotFound = "NF"

	// TagNoOp is the response to mn
	TagNoOp = "MN"
)

// Request flags, in the order RequestFlags.AppendTo writes them.

// Boolean request flags (letter only)
const (
	// FlagNoReply suppresses nominal responses (HD, EN, NF)
	FlagNoReply FlagType = 'q'

	// FlagReturnClientFlag returns the client flags (uint32)
	FlagReturnClientFlag FlagType = 'f'

	// FlagReturnCAS returns the CAS token
	FlagReturnCAS FlagType = 'c'

	// FlagReturnValue returns the item value; response changes from HD to VA
	FlagReturnValue FlagType = 'v'

	// FlagReturnTTL returns the remaining TTL in seconds (-1 for infinite)
	FlagReturnTTL FlagType = 't'

	// FlagReturnSize returns the value size in bytes
	FlagReturnSize FlagType = 's'

	// FlagReturnLastAccess returns seconds since last access
	FlagReturnLastAccess FlagType = 'l'

	// FlagReturnFetched returns whether the item was fetched before (0 or 1)
	FlagReturnFetched FlagType = 'h'

	// FlagReturnKey returns the key in the response
	FlagReturnKey FlagType = 'k'

	// FlagNoUpdateLRU prevents LRU bump and access time update
	FlagNoUpdateLRU FlagType = 'u'

	// FlagMarkStale invalidates instead of deleting/storing
	FlagMarkStale FlagType = 'I'
)

// Valued request flags (letter followed by token)
const (
	// FlagCacheTTL sets the TTL in seconds. Format: T<seconds>
	FlagCacheTTL FlagType = 'T'

	// FlagRecacheTTL wins the recache race if the remaining TTL is below the token.
	// Format: R<seconds>
	FlagRecacheTTL FlagType = 'R'

	// FlagVivifyOnMiss creates a stub item on miss with the given TTL.
	// Format: N<seconds>
	FlagVivifyOnMiss FlagType = 'N'

	// FlagClientFlag sets the client flags. Format: F<flags>
	FlagClientFlag FlagType = 'F'

	// FlagInitialValue is the initial counter value on auto-create. Format: J<value>
	FlagInitialValue FlagType = 'J'

	// FlagDelta is the arithmetic delta. Format: D<delta>
	FlagDelta FlagType = 'D'

	// FlagCompareCAS only modifies the item if its CAS matches. Format: C<cas>
	FlagCompareCAS FlagType = 'C'

	// FlagOpaque is echoed back verbatim by the server. Format: O<token>
	FlagOpaque FlagType = 'O'

	// FlagMode switches the command mode. Format: M<char>
	FlagMode FlagType = 'M'
)

// FlagBase64Key marks the key as base64-encoded binary.
// The builder adds it on its own for binary keys.
const FlagBase64Key FlagType = 'b'

// LegacySizePrefix is written before the size when the legacy size format
// is requested ("ms key S123").
const LegacySizePrefix = 'S'

// Response flags
const (
	// FlagWin indicates the client has the exclusive right to recache
	FlagWin FlagType = 'W'

	// FlagLost indicates another client already won the recache race
	FlagLost FlagType = 'Z'

	// FlagStale indicates the item is marked as stale
	FlagStale FlagType = 'X'
)

// Modes (used with FlagMode)
const (
	ModeSet       byte = 'S'
	ModeAdd       byte = 'E'
	ModeReplace   byte = 'R'
	ModeAppend    byte = 'A'
	ModePrepend   byte = 'P'
	ModeIncrement byte = 'I'
	ModeDecrement byte = 'D'
)

// Protocol limits
const (
	// MaxKeyLength is the exclusive upper bound for a plain key length.
	// The server rejects keys longer than 250 bytes.
	MaxKeyLength = 250

	// MaxBinaryKeyLength is the exclusive upper bound for a binary key
	// length before base64 encoding (250 * 3 / 4).
	MaxBinaryKeyLength = 187

	// MaxOpaqueLength is the maximum opaque token length the server accepts
	MaxOpaqueLength = 32
)

// minHeaderLength is the smallest window that can hold a tag and CRLF.
const minHeaderLength = 4
