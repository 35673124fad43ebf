// Copyright 2025 go-stencil Authors
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

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/ajroetker/go-stencil/stencil/model"
	"github.com/spf13/cobra"
)

func newTranslateCmd(opts *rootOptions) *cobra.Command {
	var dot bool
	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Print the translated stencil loops and the source derived from them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			def, err := opts.definition()
			if err != nil {
				return err
			}
			k, err := def.Translate()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if dot {
				_, err := io.WriteString(w, model.Dot(k.Body))
				return err
			}
			src, err := model.Format(k.Body)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "// kernel %s(%s) -> %s, ghost depth %d\n", k.Name, strings.Join(k.Inputs, ", "), k.Output, k.GhostDepth)
			for _, line := range model.Summary(k.Body) {
				fmt.Fprintf(w, "//   %s\n", line)
			}
			fmt.Fprintln(w, src)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dot, "dot", false, "print the translated tree as a Graphviz digraph")
	return cmd
}
