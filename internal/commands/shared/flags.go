// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package shared holds the global flags and output helpers used by every
// tracelight subcommand.
package shared

var (
	verboseFlag bool
	jsonFlag    bool
	configFlag  string
	storeFlag   string
	remoteFlag  string

	// Build-time version information
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// GlobalFlags points at the values bound to the root command's persistent
// flags.
type GlobalFlags struct {
	Verbose *bool
	JSON    *bool
	Config  *string
	Store   *string
	Remote  *string
}

func RegisterFlagPointers() GlobalFlags {
	return GlobalFlags{
		Verbose: &verboseFlag,
		JSON:    &jsonFlag,
		Config:  &configFlag,
		Store:   &storeFlag,
		Remote:  &remoteFlag,
	}
}

func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

func GetVerbose() bool {
	return verboseFlag
}

func GetJSON() bool {
	return jsonFlag
}

func GetConfigPath() string {
	return configFlag
}

// GetStorePath returns the --store override, if any.
func GetStorePath() string {
	return storeFlag
}

// GetRemoteURL returns the --remote override, if any.
func GetRemoteURL() string {
	return remoteFlag
}

func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// ResetFlagsForTest clears every global flag.
func ResetFlagsForTest() {
	verboseFlag = false
	jsonFlag = false
	configFlag = ""
	storeFlag = ""
	remoteFlag = ""
}
