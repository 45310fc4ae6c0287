/*
 * This file is part of Chihaya.
 *
 * Chihaya is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * Chihaya is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with Chihaya.  If not, see <http://www.gnu.org/licenses/>.
 */

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"kuroneko/types"
)

// provided at compile-time
var (
	BuildDate    = "0000-00-00T00:00:00+0000"
	BuildVersion = "development"
)

func help() {
	fmt.Printf("Usage of %s: <command> [cache name]\n", os.Args[0])
	fmt.Println("  dump       unmarshals binary swarm cache into readable JSON file")
	fmt.Println("  restore    marshals JSON file back into binary swarm cache")
}

func main() {
	fmt.Printf("cache utility for chihaya (kuroneko), ver=%s date=%s runtime=%s\n\n",
		BuildVersion, BuildDate, runtime.Version())

	if len(os.Args) < 2 {
		help()
		return
	}

	name := types.SwarmCacheFile
	if len(os.Args) > 2 {
		name = os.Args[2]
	}

	switch os.Args[1] {
	case "dump":
		dump(name)
	case "restore":
		restore(name)
	default:
		help()
	}
}

func dump(f string) {
	fmt.Printf("Dumping data for %s, this might take a while...", f)

	binFile, err := os.OpenFile(fmt.Sprintf("%s.bin", f), os.O_RDONLY, 0600)
	if err != nil {
		panic(err)
	}

	snapshot, err := types.LoadSnapshot(binFile)
	if err != nil {
		panic(err)
	}

	jsonFile, err := os.OpenFile(fmt.Sprintf("%s.json", f), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		panic(err)
	}

	encoder := json.NewEncoder(jsonFile)
	encoder.SetIndent("", "\t")

	if err = encoder.Encode(snapshot); err != nil {
		panic(err)
	}

	_ = binFile.Close()
	_ = jsonFile.Close()

	peers := 0
	for _, s := range snapshot {
		peers += len(s.Peers)
	}

	fmt.Printf("...Done! Exported %d torrent entries with %d peers\n", len(snapshot), peers)
}

func restore(f string) {
	fmt.Printf("Restoring data for %s, this might take a while...", f)

	jsonFile, err := os.OpenFile(fmt.Sprintf("%s.json", f), os.O_RDONLY, 0600)
	if err != nil {
		panic(err)
	}

	snapshot := make(types.Snapshot)

	if err = json.NewDecoder(jsonFile).Decode(&snapshot); err != nil {
		panic(err)
	}

	binFile, err := os.OpenFile(fmt.Sprintf("%s.bin", f), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		panic(err)
	}

	if err = types.WriteSnapshot(binFile, snapshot); err != nil {
		panic(err)
	}

	_ = jsonFile.Close()
	_ = binFile.Close()

	fmt.Println("...Done!")
}
