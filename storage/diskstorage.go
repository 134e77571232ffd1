/*
 * TokenStore
 *
 * Copyright 2020 The TokenStore Authors. All rights reserved.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package storage

import (
	"fmt"
	"os"
	"strings"
	"time"

	"devt.de/krotik/common/datautil"
	"devt.de/krotik/common/fileutil"
	"devt.de/krotik/common/lockutil"
	"github.com/wasser224/tokenstore/storage/file"
)

/*
FilenameMainDB is the filename for the main database file
*/
var FilenameMainDB = "main.pm"

/*
FilenameLockfile is the filename for the lockfile
*/
var FilenameLockfile = "store.lck"

/*
DiskStorage data structure
*/
type DiskStorage struct {
	name     string                        // Name of the storage directory
	mainDB   *datautil.PersistentStringMap // Database storing meta data
	spaces   map[string]*file.RecordFile   // Map of record spaces
	lockfile *lockutil.LockFile            // Lockfile manager
}

/*
NewDiskStorage creates a new DiskStorage instance. The given directory is
created if it does not exist. A lockfile makes sure only one process opens
the storage at a time.
*/
func NewDiskStorage(name string) (Storage, error) {

	ds := &DiskStorage{name, nil, make(map[string]*file.RecordFile), nil}

	// Load the storage if the storage directory already exists if not try to create it

	if res, _ := fileutil.PathExists(name); !res {
		if err := os.Mkdir(name, 0770); err != nil {
			return nil, NewStorageError(ErrOpening, err.Error(), name)
		}

		mainDB, err := datautil.NewPersistentStringMap(name + "/" + FilenameMainDB)
		if err != nil {
			return nil, NewStorageError(ErrOpening, err.Error(), name)
		}

		ds.mainDB = mainDB

	} else {

		mainDB, err := datautil.LoadPersistentStringMap(name + "/" + FilenameMainDB)
		if err != nil {
			return nil, NewStorageError(ErrOpening, err.Error(), name)
		}

		ds.mainDB = mainDB
	}

	// Take ownership of the storage directory - the lockfile is checked
	// every 50 milliseconds

	lf := lockutil.NewLockFile(name+"/"+FilenameLockfile,
		time.Duration(50)*time.Millisecond)

	if err := lf.Start(); err != nil {
		return nil, NewStorageError(ErrOpening,
			fmt.Sprint("Could not take ownership of lockfile: ", err), name)
	}

	ds.lockfile = lf

	return ds, nil
}

/*
DataFileExist checks if the first physical file of a record space exists.
*/
func DataFileExist(dir string, spacename string) bool {
	ret, err := fileutil.PathExists(fmt.Sprintf("%v/%v.0", dir, spacename))

	if err != nil {
		return false
	}

	return ret
}

/*
Name returns the name of the DiskStorage instance.
*/
func (ds *DiskStorage) Name() string {
	return fmt.Sprint("DiskStorage:", ds.name)
}

/*
MainDB returns the main database.
*/
func (ds *DiskStorage) MainDB() map[string]string {
	return ds.mainDB.Data
}

/*
FlushMain writes the main database to the storage.
*/
func (ds *DiskStorage) FlushMain() error {
	if err := ds.mainDB.Flush(); err != nil {
		return NewStorageError(ErrFlushing, err.Error(), ds.name)
	}
	return nil
}

/*
Space returns a record space with a certain name. A non-existing space is
created automatically if the create flag is set to true.
*/
func (ds *DiskStorage) Space(name string, recordSize uint32, create bool) (Space, error) {

	sp, ok := ds.spaces[name]

	if !ok && (create || DataFileExist(ds.name, name)) {
		rf, err := file.NewRecordFile(ds.name+"/"+name, recordSize)
		if err != nil {
			return nil, NewStorageError(ErrOpening, err.Error(), ds.name)
		}

		ds.spaces[name] = rf
		sp = rf
	}

	if sp == nil {
		return nil, nil
	}

	return sp, nil
}

/*
FlushAll writes all pending changes to the storage.
*/
func (ds *DiskStorage) FlushAll() error {

	var errors []string

	if err := ds.mainDB.Flush(); err != nil {
		errors = append(errors, err.Error())
	}

	for _, sp := range ds.spaces {
		if err := sp.Flush(); err != nil {
			errors = append(errors, err.Error())
		} else if err := sp.Sync(); err != nil {
			errors = append(errors, err.Error())
		}
	}

	if len(errors) > 0 {
		details := fmt.Sprint(ds.name, " :", strings.Join(errors, "; "))

		return NewStorageError(ErrFlushing, details, ds.name)
	}

	return nil
}

/*
Close closes the storage.
*/
func (ds *DiskStorage) Close() error {

	var errors []string

	if err := ds.mainDB.Flush(); err != nil {
		errors = append(errors, err.Error())
	}

	for _, sp := range ds.spaces {
		if err := sp.Close(); err != nil {
			errors = append(errors, err.Error())
		}
	}

	ds.spaces = make(map[string]*file.RecordFile)

	if ds.lockfile != nil {
		if err := ds.lockfile.Finish(); err != nil {
			errors = append(errors, err.Error())
		}
		ds.lockfile = nil
	}

	if len(errors) > 0 {
		details := fmt.Sprint(ds.name, " :", strings.Join(errors, "; "))

		return NewStorageError(ErrClosing, details, ds.name)
	}

	return nil
}
