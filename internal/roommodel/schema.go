package roommodel

// createSQL follows the teacher's spillbox/sql.go idiom: one script of
// CREATE TABLE IF NOT EXISTS statements run once at startup under
// sqlitex.Save, WAL journal mode, explicit UNIQUE/FOREIGN KEY constraints
// doing the work the original's in-memory invariants did.
const createSQL = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS Floors (
	FloorID    INTEGER PRIMARY KEY,
	Name       TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS Users (
	UserID          INTEGER PRIMARY KEY,
	Name            TEXT NOT NULL UNIQUE,
	PasswordHash    TEXT NOT NULL,
	AccessLevel     INTEGER NOT NULL DEFAULT 2,
	Flags           INTEGER NOT NULL DEFAULT 0,
	TimesCalled     INTEGER NOT NULL DEFAULT 0,
	MessagesPosted  INTEGER NOT NULL DEFAULT 0,
	LastLogin       INTEGER NOT NULL DEFAULT 0,
	PurgeDays       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS UserAddresses (
	UserID   INTEGER NOT NULL REFERENCES Users(UserID),
	Seq      INTEGER NOT NULL,
	Address  TEXT NOT NULL,
	PRIMARY KEY (UserID, Seq)
);

CREATE TABLE IF NOT EXISTS Rooms (
	RoomID          INTEGER PRIMARY KEY,
	Name            TEXT NOT NULL UNIQUE,
	Password        TEXT NOT NULL DEFAULT '',
	RoomAideID      INTEGER NOT NULL DEFAULT 0,
	HighestMessage  INTEGER NOT NULL DEFAULT 0,
	Generation      INTEGER NOT NULL DEFAULT 1,
	Flags           INTEGER NOT NULL DEFAULT 0,
	DirectoryName   TEXT NOT NULL DEFAULT '',
	InfoMsgNum      INTEGER NOT NULL DEFAULT 0,
	FloorID         INTEGER NOT NULL DEFAULT 1 REFERENCES Floors(FloorID),
	LastWrite       INTEGER NOT NULL DEFAULT 0,
	ExpiryMode      INTEGER NOT NULL DEFAULT 0,
	ExpiryValue     INTEGER NOT NULL DEFAULT 0,
	SortOrder       INTEGER NOT NULL DEFAULT 0,
	DefaultView     INTEGER NOT NULL DEFAULT 0,
	Dead            INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS RoomsByFloor ON Rooms(FloorID);

CREATE TABLE IF NOT EXISTS RoomKnown (
	UserID     INTEGER NOT NULL REFERENCES Users(UserID),
	RoomID     INTEGER NOT NULL REFERENCES Rooms(RoomID),
	Known      INTEGER NOT NULL DEFAULT 1,
	Zapped     INTEGER NOT NULL DEFAULT 0,
	LastSeen   INTEGER NOT NULL DEFAULT 0,
	SkipFlag   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (UserID, RoomID)
);

INSERT OR IGNORE INTO Floors (FloorID, Name) VALUES (1, 'Main Floor');
INSERT OR IGNORE INTO Rooms (RoomID, Name, FloorID) VALUES (1, 'Lobby', 1);
`
