// Copyright 2021 Hailiang Zhao <hliangzhao@zju.edu.cn>
// This file is part of the lightChain, adapted for ledgerchain.
//
// The lightChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The lightChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the lightChain. If not, see <http://www.gnu.org/licenses/>.

package main

import "fmt"

// ANSI diagnostic colors for informational, warning, and error output.
const (
	colorInfo  = "\033[96m"
	colorWarn  = "\033[93m"
	colorError = "\033[91m"
	colorReset = "\033[0m"
)

func printInfo(format string, args ...interface{}) {
	fmt.Printf(colorInfo+format+colorReset+"\n", args...)
}

func printWarn(format string, args ...interface{}) {
	fmt.Printf(colorWarn+format+colorReset+"\n", args...)
}

func printErr(format string, args ...interface{}) {
	fmt.Printf(colorError+format+colorReset+"\n", args...)
}
