package msgstore

// createSQL follows spillbox/sql.go's idiom: WAL mode, FTS5 virtual table
// for MSGS search. Msgs.RoomID holds ids from the room database's RoomID
// space without a foreign key constraint, since that table lives in
// another file (the two sqlite files are opened separately, as the teacher keeps
// a main db and an attached blobs db; here Rooms and Msgs are separate
// files so the message store can be sharded/rotated independently of the
// room/user model).
const createSQL = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS Msgs (
	MsgNum       INTEGER PRIMARY KEY,
	RoomID       INTEGER NOT NULL,
	EUID         TEXT,
	Author       TEXT NOT NULL DEFAULT '',
	FromAddr     TEXT NOT NULL DEFAULT '',
	Node         TEXT NOT NULL DEFAULT '',
	Subject      TEXT NOT NULL DEFAULT '',
	MessageID    TEXT NOT NULL DEFAULT '',
	References_  TEXT NOT NULL DEFAULT '',
	Timestamp    INTEGER NOT NULL,
	FormatType   INTEGER NOT NULL DEFAULT 1,
	HeadersAll   TEXT NOT NULL DEFAULT '',
	Body         BLOB NOT NULL DEFAULT '',
	Expunged     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS MsgsByRoom ON Msgs(RoomID, MsgNum);
-- Not a UNIQUE index: mailbox rooms keep at most one live row per EUID
-- because Enter expunges the prior match before inserting (app-level
-- upsert, serialized by the per-room lock), but wiki rooms deliberately
-- keep multiple live rows sharing one EUID as revision history
-- (EnterWiki never expunges), so uniqueness can't be a DB constraint.
CREATE INDEX IF NOT EXISTS MsgsByRoomEUID ON Msgs(RoomID, EUID) WHERE EUID IS NOT NULL AND Expunged = 0;

CREATE VIRTUAL TABLE IF NOT EXISTS MsgSearch USING fts5(Subject, Body, content='');

CREATE TABLE IF NOT EXISTS MsgParts (
	MsgNum       INTEGER NOT NULL REFERENCES Msgs(MsgNum),
	PartNum      INTEGER NOT NULL,
	ContentType  TEXT NOT NULL DEFAULT '',
	Charset      TEXT NOT NULL DEFAULT '',
	Disposition  TEXT NOT NULL DEFAULT '',
	Filename     TEXT NOT NULL DEFAULT '',
	Encoding     TEXT NOT NULL DEFAULT '',
	Content      BLOB NOT NULL DEFAULT '',
	PRIMARY KEY (MsgNum, PartNum)
);
`
